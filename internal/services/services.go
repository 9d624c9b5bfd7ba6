package services

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/kumodl/kumo/internal/utils"
)

var ErrUnsupportedURL = errors.New("unsupported URL format")

// Service converts a share link into a directly fetchable URL and names the
// resulting file. Implementations are pure URL/string work; anything that
// needs the network goes through the optional Finalizer step.
type Service interface {
	Name() string
	Match(rawURL string) bool
	Resolve(rawURL string) (string, error)
	Filename(rawURL string, headers http.Header) string
}

// Finalizer is implemented by services that need a network round trip after
// resolution, such as interstitial-page handling or link-issuing APIs. It
// returns the URL the engine should actually fetch.
type Finalizer interface {
	Finalize(ctx context.Context, client *utils.KumoHTTPClient, resolvedURL string) (string, error)
}

var registry = []Service{
	NewDropbox(),
	NewGoogleDrive(),
	NewWeTransfer(),
	NewDirect(),
}

// Detect returns the first registered service claiming the URL.
func Detect(rawURL string) (Service, error) {
	for _, svc := range registry {
		if svc.Match(rawURL) {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
}

// Lookup returns the service with the given name, or nil when no service
// claims it, letting callers fall back to URL detection.
func Lookup(name string) Service {
	for _, svc := range registry {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}

var filenameSanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// headerFilename extracts a filename from Content-Disposition, preferring the
// plain filename field and falling back to the RFC 5987 encoded form.
func headerFilename(headers http.Header) string {
	contentDisposition := headers.Get("Content-Disposition")
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameSanitizeRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && fn != "" {
		if strings.HasPrefix(fn, "UTF-8''") {
			unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
			return filenameSanitizeRegex.ReplaceAllString(unescaped, "_")
		}
	}
	return ""
}

// pathFilename returns the last non-empty path segment of the URL.
func pathFilename(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	decoded, err := url.QueryUnescape(parsed.Path)
	if err != nil {
		decoded = parsed.Path
	}
	parts := strings.Split(decoded, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}
