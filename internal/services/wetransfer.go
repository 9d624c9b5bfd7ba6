package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kumodl/kumo/internal/utils"
)

var (
	weTransferShortRegex = regexp.MustCompile(`we\.tl/([a-zA-Z0-9]+)`)
	weTransferLongRegex  = regexp.MustCompile(`wetransfer\.com/downloads/([a-zA-Z0-9]+)`)
)

type WeTransfer struct {
	APIBase string
}

func NewWeTransfer() *WeTransfer {
	return &WeTransfer{APIBase: "https://wetransfer.com/api/v4"}
}

func (w *WeTransfer) Name() string {
	return "wetransfer"
}

func (w *WeTransfer) Match(rawURL string) bool {
	return strings.Contains(rawURL, "wetransfer.com") ||
		strings.Contains(rawURL, "we.tl")
}

// Resolve validates the share-link shape. The fetchable URL is issued by the
// transfer API during Finalize, so the link passes through unchanged here.
func (w *WeTransfer) Resolve(rawURL string) (string, error) {
	if !w.Match(rawURL) {
		return "", fmt.Errorf("%w: not a WeTransfer link", ErrUnsupportedURL)
	}
	if _, err := extractTransferID(rawURL); err != nil {
		return "", err
	}
	return rawURL, nil
}

func (w *WeTransfer) Filename(rawURL string, headers http.Header) string {
	if name := headerFilename(headers); name != "" {
		return name
	}
	return "wetransfer_file"
}

// Finalize walks the transfer API: short links are expanded first, then the
// transfer record yields a security hash that unlocks the direct link.
func (w *WeTransfer) Finalize(ctx context.Context, client *utils.KumoHTTPClient, resolvedURL string) (string, error) {
	if strings.Contains(resolvedURL, "we.tl") {
		expanded, err := w.expandShortLink(ctx, client, resolvedURL)
		if err == nil && expanded != "" {
			resolvedURL = expanded
		}
	}
	transferID, err := extractTransferID(resolvedURL)
	if err != nil {
		return "", err
	}
	log.Debug().Str("op", "services/wetransfer").Msgf("Resolving transfer %s", transferID)

	transfer, err := w.fetchTransfer(ctx, client, transferID)
	if err != nil {
		return "", err
	}
	if len(transfer.Files) == 0 {
		return "", fmt.Errorf("no files in transfer %s", transferID)
	}
	return w.fetchDirectLink(ctx, client, transferID, transfer.SecurityHash)
}

type weTransferRecord struct {
	Files []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"files"`
	SecurityHash string `json:"security_hash"`
}

func (w *WeTransfer) expandShortLink(ctx context.Context, client *utils.KumoHTTPClient, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", shortURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.DoNoRedirect(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		return resp.Header.Get("Location"), nil
	}
	return "", nil
}

func (w *WeTransfer) fetchTransfer(ctx context.Context, client *utils.KumoHTTPClient, transferID string) (*weTransferRecord, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/transfers/%s", w.APIBase, transferID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transfer lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transfer lookup returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var record weTransferRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("parsing transfer record: %w", err)
	}
	return &record, nil
}

func (w *WeTransfer) fetchDirectLink(ctx context.Context, client *utils.KumoHTTPClient, transferID, securityHash string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"intent":        "entire_transfer",
		"security_hash": securityHash,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", fmt.Sprintf("%s/transfers/%s/download", w.APIBase, transferID), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download link request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download link request returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var link struct {
		DirectLink string `json:"direct_link"`
	}
	if err := json.Unmarshal(body, &link); err != nil {
		return "", fmt.Errorf("parsing download link response: %w", err)
	}
	if link.DirectLink == "" {
		return "", fmt.Errorf("transfer API returned no direct link")
	}
	return link.DirectLink, nil
}

func extractTransferID(rawURL string) (string, error) {
	if matches := weTransferShortRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	if matches := weTransferLongRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	return "", fmt.Errorf("%w: no transfer ID in WeTransfer URL", ErrUnsupportedURL)
}
