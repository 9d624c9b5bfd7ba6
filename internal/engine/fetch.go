package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kumodl/kumo/internal/utils"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 30 * time.Second
)

// backoffDelay returns the wait before retry attempt (1-based), doubling from
// the base with a ±10% jitter and capped so a long outage never produces
// multi-minute sleeps.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<(attempt-1))
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// fetchChunk downloads one planned range into its part file, retrying
// transient failures with backoff. Each attempt truncates the part and
// re-fetches the whole range, so a half-written part from a failed attempt is
// never trusted. A 416 is tolerated only for the final chunk of a multi-chunk
// plan, where probed metadata can overshoot the true length; anywhere else it
// is fatal immediately.
func (e *Engine) fetchChunk(ctx context.Context, chunk ChunkRange, isFinal bool, tempDir string) (ChunkResult, error) {
	partPath := filepath.Join(tempDir, fmt.Sprintf("%s.part%d", filepath.Base(e.req.OutputPath), chunk.Index))
	var counted int64
	var lastErr error

	for attempt := 1; attempt <= e.req.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			log.Debug().Str("op", "engine/fetch").Msgf("Retrying chunk %d in %s (attempt %d/%d): %v",
				chunk.Index, delay.Round(time.Millisecond), attempt, e.req.MaxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ChunkResult{}, &ChunkError{Index: chunk.Index, Err: ctx.Err()}
			}
		}
		if counted > 0 {
			e.sendProgress(-counted)
			counted = 0
		}

		written, err := e.rangeAttempt(ctx, chunk, partPath, &counted)
		if err == nil {
			return ChunkResult{Index: chunk.Index, Path: partPath, Size: written}, nil
		}
		if errors.Is(err, ErrUnexpectedRange) {
			if isFinal {
				log.Warn().Str("op", "engine/fetch").Msgf("Range %d-%d for final chunk %d not satisfiable, treating as already complete",
					chunk.Start, chunk.End, chunk.Index)
				if werr := os.WriteFile(partPath, nil, 0644); werr != nil {
					return ChunkResult{}, &ChunkError{Index: chunk.Index, Err: werr}
				}
				return ChunkResult{Index: chunk.Index, Path: partPath, Size: 0}, nil
			}
			return ChunkResult{}, &ChunkError{Index: chunk.Index, Err: err}
		}
		if ctx.Err() != nil {
			return ChunkResult{}, &ChunkError{Index: chunk.Index, Err: ctx.Err()}
		}
		lastErr = err
	}
	return ChunkResult{}, &ChunkError{
		Index: chunk.Index,
		Err:   fmt.Errorf("retries exhausted after %d attempts: %w", e.req.MaxRetries, lastErr),
	}
}

// rangeAttempt performs a single ranged fetch of chunk into partPath. The
// server must honor the range with a 206 and a Content-Range header; a 200
// means the range was ignored and the body is the whole file, which would
// corrupt the part.
func (e *Engine) rangeAttempt(ctx context.Context, chunk ChunkRange, partPath string, counted *int64) (int64, error) {
	file, err := os.OpenFile(partPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating part file: %w", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.req.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", chunk.Start, chunk.End))
	req.Header.Set("Connection", "keep-alive")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if resp.Header.Get("Content-Range") == "" {
			return 0, errors.New("missing Content-Range header in ranged response")
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, ErrUnexpectedRange
	default:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	written, err := e.copyBody(ctx, file, resp.Body, counted)
	if err != nil {
		return 0, err
	}
	if expected := chunk.Length(); written != expected {
		return 0, fmt.Errorf("incomplete chunk body: expected %d bytes, got %d", expected, written)
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("syncing part file: %w", err)
	}
	return written, nil
}

// copyBody streams the response body to the file in buffer-sized reads,
// reporting progress per read so the aggregate display moves smoothly.
func (e *Engine) copyBody(ctx context.Context, file *os.File, body io.ReadCloser, counted *int64) (int64, error) {
	reader := e.client.LimitBody(ctx, body)
	buffer := make([]byte, utils.DefaultBufferSize)
	var written int64
	for {
		n, err := reader.Read(buffer)
		if n > 0 {
			if _, werr := file.Write(buffer[:n]); werr != nil {
				return written, fmt.Errorf("writing to part file: %w", werr)
			}
			written += int64(n)
			*counted += int64(n)
			e.sendProgress(int64(n))
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, fmt.Errorf("reading response body: %w", err)
		}
	}
}

// wholeFile streams the entire body without range requests, for servers that
// either refuse ranges or never reported a length. Unlike chunk attempts a
// retry here resumes from the bytes already on disk when the server honors
// the offset, since re-pulling a large file from zero on every hiccup would
// defeat the point of retrying.
func (e *Engine) wholeFile(ctx context.Context, tempDir string) (string, error) {
	partPath := filepath.Join(tempDir, filepath.Base(e.req.OutputPath)+".part0")
	var counted int64
	var lastErr error

	for attempt := 1; attempt <= e.req.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			log.Debug().Str("op", "engine/fetch").Msgf("Retrying download in %s (attempt %d/%d): %v",
				delay.Round(time.Millisecond), attempt, e.req.MaxRetries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &ChunkError{Index: 0, Err: ctx.Err()}
			}
		}

		err := e.wholeFileAttempt(ctx, partPath, &counted)
		if err == nil {
			return partPath, nil
		}
		if errors.Is(err, ErrUnexpectedRange) {
			return "", &ChunkError{Index: 0, Err: err}
		}
		if ctx.Err() != nil {
			return "", &ChunkError{Index: 0, Err: ctx.Err()}
		}
		lastErr = err
	}
	return "", &ChunkError{
		Index: 0,
		Err:   fmt.Errorf("retries exhausted after %d attempts: %w", e.req.MaxRetries, lastErr),
	}
}

func (e *Engine) wholeFileAttempt(ctx context.Context, partPath string, counted *int64) error {
	var resumeOffset int64
	if info, err := os.Stat(partPath); err == nil {
		resumeOffset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.req.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if resumeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE
	switch {
	case resumeOffset > 0 && resp.StatusCode == http.StatusPartialContent:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		// server ignored the offset, start over
		if *counted > 0 {
			e.sendProgress(-*counted)
			*counted = 0
		}
		resumeOffset = 0
		flags |= os.O_TRUNC
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return ErrUnexpectedRange
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	file, err := os.OpenFile(partPath, flags, 0644)
	if err != nil {
		return fmt.Errorf("opening part file: %w", err)
	}
	defer file.Close()

	written, err := e.copyBody(ctx, file, resp.Body, counted)
	if err != nil {
		return err
	}
	if e.meta != nil && e.meta.Size > 0 {
		if total := resumeOffset + written; total != e.meta.Size {
			return fmt.Errorf("incomplete body: expected %d bytes, got %d", e.meta.Size, total)
		}
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing part file: %w", err)
	}
	return nil
}
