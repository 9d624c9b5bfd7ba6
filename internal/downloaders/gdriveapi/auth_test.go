package gdriveapi

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	token := &oauth2.Token{
		AccessToken:  "at-123",
		TokenType:    "Bearer",
		RefreshToken: "rt-456",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	saveToken(path, token)

	got, err := loadCachedToken(path)
	if err != nil {
		t.Fatalf("loadCachedToken() error = %v", err)
	}
	if got.AccessToken != token.AccessToken || got.RefreshToken != token.RefreshToken {
		t.Errorf("round trip changed token: got %q/%q", got.AccessToken, got.RefreshToken)
	}
	if !got.Valid() {
		t.Error("freshly cached token should still be valid")
	}
}

func TestLoadCachedTokenMissingFile(t *testing.T) {
	if _, err := loadCachedToken(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing cache file")
	}
}
