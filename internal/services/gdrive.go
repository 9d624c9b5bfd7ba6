package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kumodl/kumo/internal/utils"
)

// ErrConfirmTokenNotFound means the scan-warning interstitial was detected
// but no usable confirmation token could be extracted from it.
var ErrConfirmTokenNotFound = errors.New("drive confirm token not found in interstitial page")

var (
	driveFilePathRegex = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParamRegex  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveOpenRegex     = regexp.MustCompile(`/open\?id=([a-zA-Z0-9_-]+)`)
	driveShortRegex    = regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`)

	confirmTokenRegex = regexp.MustCompile(`confirm=([0-9A-Za-z_-]+)`)
	formActionRegex   = regexp.MustCompile(`(?i)<form[^>]+action="([^"]+)"`)
	hiddenInputRegex  = regexp.MustCompile(`(?i)<input[^>]+name="([^"]+)"[^>]+value="([^"]*)"`)
)

type GoogleDrive struct{}

func NewGoogleDrive() *GoogleDrive {
	return &GoogleDrive{}
}

func (g *GoogleDrive) Name() string {
	return "gdrive"
}

func (g *GoogleDrive) Match(rawURL string) bool {
	return strings.Contains(rawURL, "drive.google.com") ||
		strings.Contains(rawURL, "docs.google.com")
}

func (g *GoogleDrive) Resolve(rawURL string) (string, error) {
	if !g.Match(rawURL) {
		return "", fmt.Errorf("%w: not a Google Drive link", ErrUnsupportedURL)
	}
	fileID, err := ExtractDriveFileID(rawURL)
	if err != nil {
		return "", err
	}
	// confirm=t skips the size-based scan warning for most files
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s&confirm=t", fileID), nil
}

func (g *GoogleDrive) Filename(rawURL string, headers http.Header) string {
	if name := headerFilename(headers); name != "" {
		return name
	}
	return "google_drive_file"
}

// Finalize detects the scan-warning interstitial behind the resolved URL and
// re-resolves through its embedded confirmation token. Returns the URL
// unchanged when the server is already serving content.
func (g *GoogleDrive) Finalize(ctx context.Context, client *utils.KumoHTTPClient, resolvedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", resolvedURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := client.DoNoRedirect(req)
	if err != nil {
		return "", fmt.Errorf("interstitial check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		location := resp.Header.Get("Location")
		if !strings.Contains(location, "accounts.google.com") && !strings.Contains(location, "drive.google.com/uc") {
			// Ordinary redirect to the content host
			return resolvedURL, nil
		}
		parsed, err := url.Parse(location)
		if err != nil {
			return "", fmt.Errorf("%w: bad interstitial location", ErrConfirmTokenNotFound)
		}
		if confirm := parsed.Query().Get("confirm"); confirm != "" {
			fileID, _ := ExtractDriveFileID(resolvedURL)
			log.Debug().Str("op", "services/gdrive").Msgf("Re-resolved through redirect confirm token")
			return fmt.Sprintf("https://drive.google.com/uc?export=download&confirm=%s&id=%s", confirm, fileID), nil
		}
		return "", ErrConfirmTokenNotFound
	}

	if resp.StatusCode == http.StatusOK && strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
		if err != nil {
			return "", fmt.Errorf("reading interstitial page: %w", err)
		}
		return resolveFromScanPage(resolvedURL, string(body))
	}

	return resolvedURL, nil
}

// resolveFromScanPage scans warning-page HTML for a confirm token or the
// download form it posts to.
func resolveFromScanPage(resolvedURL, page string) (string, error) {
	for _, matches := range confirmTokenRegex.FindAllStringSubmatch(page, -1) {
		if matches[1] == "t" {
			// the placeholder from our own resolved URL, not a real token
			continue
		}
		fileID, _ := ExtractDriveFileID(resolvedURL)
		log.Debug().Str("op", "services/gdrive").Msgf("Re-resolved through page confirm token")
		return fmt.Sprintf("https://drive.google.com/uc?export=download&confirm=%s&id=%s", matches[1], fileID), nil
	}
	if matches := formActionRegex.FindStringSubmatch(page); len(matches) > 1 && strings.Contains(matches[1], "download") {
		action := matches[1]
		values := url.Values{}
		for _, input := range hiddenInputRegex.FindAllStringSubmatch(page, -1) {
			values.Set(input[1], input[2])
		}
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(action, "?") {
				sep = "&"
			}
			log.Debug().Str("op", "services/gdrive").Msgf("Re-resolved through download form action")
			return action + sep + values.Encode(), nil
		}
	}
	return "", ErrConfirmTokenNotFound
}

// ExtractDriveFileID pulls the file ID out of any of the Drive link shapes:
// /file/d/{id}, ?id={id}, /open?id={id} and the short /d/{id} form.
func ExtractDriveFileID(rawURL string) (string, error) {
	// /open?id= must win over the generic id= parameter match, and the file
	// path form over the bare /d/ form
	if matches := driveFilePathRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	if matches := driveIDParamRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	if matches := driveOpenRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	if matches := driveShortRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	return "", fmt.Errorf("%w: no file ID in Drive URL", ErrUnsupportedURL)
}
