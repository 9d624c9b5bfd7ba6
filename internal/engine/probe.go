package engine

import (
	"context"
	"net/http"
	"strconv"

	"github.com/kumodl/kumo/internal/utils"
)

// Probe issues a HEAD request against rawURL and derives the transfer
// metadata from the response headers. The response headers are returned as
// well so callers can pull a filename out of Content-Disposition without a
// second round trip. A missing or malformed Content-Length yields Size 0,
// which downstream code treats as whole-file mode.
func Probe(ctx context.Context, client *utils.KumoHTTPClient, rawURL string) (FileMetadata, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return FileMetadata{}, nil, &ProbeError{URL: rawURL, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return FileMetadata{}, nil, &ProbeError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FileMetadata{}, nil, &ProbeError{URL: rawURL, Status: resp.StatusCode}
	}

	meta := FileMetadata{
		RangeSupport: resp.Header.Get("Accept-Ranges") == "bytes",
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size > 0 {
			meta.Size = size
		}
	}
	return meta, resp.Header, nil
}
