package services

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type Dropbox struct{}

func NewDropbox() *Dropbox {
	return &Dropbox{}
}

func (d *Dropbox) Name() string {
	return "dropbox"
}

func (d *Dropbox) Match(rawURL string) bool {
	return strings.Contains(rawURL, "dropbox.com")
}

// Resolve rewrites the dl flag so the share link delivers content instead of
// the preview page.
func (d *Dropbox) Resolve(rawURL string) (string, error) {
	if !d.Match(rawURL) {
		return "", fmt.Errorf("%w: not a Dropbox link", ErrUnsupportedURL)
	}
	if !strings.Contains(rawURL, "/s/") && !strings.Contains(rawURL, "/scl/fi/") {
		return "", fmt.Errorf("%w: unrecognized Dropbox share path", ErrUnsupportedURL)
	}
	if strings.Contains(rawURL, "dl=0") {
		return strings.Replace(rawURL, "dl=0", "dl=1", 1), nil
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&dl=1", nil
	}
	return rawURL + "?dl=1", nil
}

func (d *Dropbox) Filename(rawURL string, headers http.Header) string {
	if name := headerFilename(headers); name != "" {
		return name
	}
	if name := d.pathName(rawURL); name != "" {
		return name
	}
	return "downloaded_file"
}

func (d *Dropbox) pathName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	decoded, err := url.QueryUnescape(parsed.Path)
	if err != nil {
		decoded = parsed.Path
	}
	parts := strings.Split(decoded, "/")
	if strings.Contains(decoded, "/s/") {
		// /s/{hash}/{filename}
		if len(parts) >= 4 && parts[len(parts)-1] != "" {
			return parts[len(parts)-1]
		}
	} else if strings.Contains(decoded, "/scl/fi/") {
		// /scl/fi/{id}/{filename}, last segment carrying an extension
		for i := len(parts) - 1; i >= 0; i-- {
			if parts[i] != "" && strings.Contains(parts[i], ".") {
				return parts[i]
			}
		}
	}
	return ""
}
