package gdriveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/kumodl/kumo/internal/output"
)

const (
	driveScope     = "https://www.googleapis.com/auth/drive.readonly"
	tokenCacheFile = ".kumo-token.json"
)

// accessTokenFromCredentials turns an OAuth client-credentials JSON file into
// a bearer token. The granted token is cached in .kumo-token.json so the
// interactive consent flow only runs once; expired tokens are refreshed
// silently when a refresh token is available.
func accessTokenFromCredentials(ctx context.Context, credentialsFile string) (string, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", fmt.Errorf("reading credentials file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, driveScope)
	if err != nil {
		return "", fmt.Errorf("parsing credentials file: %w", err)
	}

	token, err := loadCachedToken(tokenCacheFile)
	if err == nil {
		if token.Valid() {
			return token.AccessToken, nil
		}
		if token.RefreshToken != "" {
			refreshed, rerr := config.TokenSource(ctx, token).Token()
			if rerr == nil {
				saveToken(tokenCacheFile, refreshed)
				return refreshed.AccessToken, nil
			}
			log.Warn().Str("op", "gdriveapi/auth").Msgf("Token refresh failed, starting a new consent flow: %v", rerr)
		}
	}

	token, err = tokenFromPrompt(ctx, config)
	if err != nil {
		return "", err
	}
	saveToken(tokenCacheFile, token)
	return token.AccessToken, nil
}

// tokenFromPrompt walks the user through the OAuth consent flow on the
// terminal. It runs during job build, before the progress display takes over
// the screen, so the prompt is never overdrawn.
func tokenFromPrompt(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	output.PrintInfo("Open the following link in your browser and grant read access:")
	output.PrintDetail(authURL)
	output.PrintInfo("Paste the authorization code here and press enter:")

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}
	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

func loadCachedToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, err
	}
	return token, nil
}

// saveToken failures are logged rather than returned. A missing cache only
// costs a re-consent on the next run.
func saveToken(path string, token *oauth2.Token) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		log.Warn().Str("op", "gdriveapi/auth").Msgf("Could not cache OAuth token: %v", err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		log.Warn().Str("op", "gdriveapi/auth").Msgf("Could not cache OAuth token: %v", err)
	}
}
