package services

import (
	"fmt"
	"net/http"
	"net/url"
)

// Direct passes plain http(s) URLs through untouched. It sits last in the
// registry so service-specific matchers get first claim.
type Direct struct{}

func NewDirect() *Direct {
	return &Direct{}
}

func (d *Direct) Name() string {
	return "http"
}

func (d *Direct) Match(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func (d *Direct) Resolve(rawURL string) (string, error) {
	if !d.Match(rawURL) {
		return "", fmt.Errorf("%w: not an http(s) URL", ErrUnsupportedURL)
	}
	return rawURL, nil
}

func (d *Direct) Filename(rawURL string, headers http.Header) string {
	if name := headerFilename(headers); name != "" {
		return name
	}
	if name := pathFilename(rawURL); name != "" {
		return name
	}
	return "download"
}
