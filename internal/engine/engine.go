// Package engine implements the chunked download pipeline: probe, plan,
// bounded parallel fetch, reassembly and verification. It is plain HTTP
// mechanics with no knowledge of any particular file-sharing service; the
// services package handles URL translation before a request reaches here.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kumodl/kumo/internal/utils"
)

// Engine runs a single download request to completion. Construct one per
// request with New; an Engine is not reusable.
type Engine struct {
	client     *utils.KumoHTTPClient
	req        DownloadRequest
	meta       *FileMetadata
	progressCh chan<- int64
}

// New normalizes the request and returns an engine ready to Run. Connection
// count, chunk size and retry budget fall back to package defaults when
// unset.
func New(client *utils.KumoHTTPClient, req DownloadRequest) *Engine {
	if req.Connections <= 0 {
		req.Connections = DefaultConnections
	}
	if req.Connections > MaxConnections {
		req.Connections = MaxConnections
	}
	if req.ChunkSize <= 0 {
		req.ChunkSize = utils.DefaultChunkSize
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = DefaultMaxRetries
	}
	return &Engine{client: client, req: req}
}

// WithMetadata supplies metadata obtained by an earlier probe so Run does not
// issue a second HEAD request.
func (e *Engine) WithMetadata(meta FileMetadata) *Engine {
	e.meta = &meta
	return e
}

// WithProgress attaches a channel receiving byte deltas as data lands on
// disk. Deltas can be negative when a failed attempt discards its partial
// part. The caller owns the channel and must drain it; the engine never
// closes it.
func (e *Engine) WithProgress(ch chan<- int64) *Engine {
	e.progressCh = ch
	return e
}

func (e *Engine) sendProgress(n int64) {
	if e.progressCh != nil {
		e.progressCh <- n
	}
}

// Run executes the full pipeline and returns only after the artifact is
// verified on disk or the download has failed terminally. Failure paths
// remove part files and any artifact this run wrote; a matching existing
// file short-circuits without touching the network.
func (e *Engine) Run(ctx context.Context) (*DownloadOutcome, error) {
	start := time.Now()

	if outcome := e.checkExistingHash(start); outcome != nil {
		return outcome, nil
	}

	if e.meta == nil {
		meta, _, err := Probe(ctx, e.client, e.req.URL)
		if err != nil {
			return nil, err
		}
		e.meta = &meta
	}

	if outcome := e.checkExistingSize(start); outcome != nil {
		return outcome, nil
	}

	if err := utils.CleanFunction(e.req.OutputPath); err != nil {
		log.Warn().Str("op", "engine").Msgf("Failed to clear stale part files: %v", err)
	}
	tempDir := filepath.Join(filepath.Dir(e.req.OutputPath), utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	chunked := e.meta.RangeSupport && e.meta.Size > e.req.ChunkSize
	var rw *resumeWriter
	wroteArtifact := false

	var runErr error
	if chunked {
		ranges, err := Plan(e.meta.Size, e.req.ChunkSize)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("op", "engine").Msgf("Downloading %s in %d chunks with %d connections",
			e.req.OutputPath, len(ranges), e.req.Connections)
		if e.req.WriteResume {
			rw = newResumeWriter(e.req, *e.meta, len(ranges))
		}
		results, err := e.runChunks(ctx, ranges, tempDir, rw)
		if err == nil {
			wroteArtifact = true
			_, err = e.assemble(results)
		}
		runErr = err
	} else {
		log.Debug().Str("op", "engine").Msgf("Downloading %s as a single stream", e.req.OutputPath)
		if e.req.WriteResume {
			rw = newResumeWriter(e.req, *e.meta, 1)
		}
		partPath, err := e.wholeFile(ctx, tempDir)
		if err == nil {
			if rw != nil {
				rw.markComplete(0)
			}
			err = os.Rename(partPath, e.req.OutputPath)
			wroteArtifact = err == nil
		}
		runErr = err
	}

	if runErr != nil {
		e.cleanupFailure(wroteArtifact)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, runErr)
		}
		return nil, runErr
	}

	hashHex, size, err := e.verify(e.meta.Size)
	if err != nil {
		e.cleanupFailure(true)
		return nil, err
	}
	if err := utils.CleanFunction(e.req.OutputPath); err != nil {
		log.Warn().Str("op", "engine").Msgf("Failed to remove part files: %v", err)
	}
	if rw != nil {
		rw.clear()
	}

	elapsed := time.Since(start)
	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(size) / secs
	}
	return &DownloadOutcome{
		Path:       e.req.OutputPath,
		Size:       size,
		Hash:       hashHex,
		Elapsed:    elapsed,
		Throughput: throughput,
	}, nil
}

// checkExistingHash short-circuits when the output already exists and matches
// the expected digest, making repeated requests idempotent without any
// network traffic. A mismatch falls through to a fresh download.
func (e *Engine) checkExistingHash(start time.Time) *DownloadOutcome {
	if e.req.ExpectedHash == "" {
		return nil
	}
	info, err := os.Stat(e.req.OutputPath)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	algo, err := e.hashAlgo()
	if err != nil {
		return nil
	}
	got, err := HashFile(e.req.OutputPath, algo)
	if err != nil {
		return nil
	}
	if !strings.EqualFold(got, e.req.ExpectedHash) {
		log.Warn().Str("op", "engine").Msgf("Existing file %s does not match expected %s digest, downloading again",
			e.req.OutputPath, algo)
		return nil
	}
	log.Debug().Str("op", "engine").Msgf("Existing file %s matches expected %s digest, skipping download",
		e.req.OutputPath, algo)
	return &DownloadOutcome{
		Path:    e.req.OutputPath,
		Size:    info.Size(),
		Hash:    got,
		Elapsed: time.Since(start),
	}
}

// checkExistingSize short-circuits when no digest was given but an existing
// file already has the probed length.
func (e *Engine) checkExistingSize(start time.Time) *DownloadOutcome {
	if e.req.ExpectedHash != "" || e.meta == nil || e.meta.Size <= 0 {
		return nil
	}
	info, err := os.Stat(e.req.OutputPath)
	if err != nil || !info.Mode().IsRegular() || info.Size() != e.meta.Size {
		return nil
	}
	log.Debug().Str("op", "engine").Msgf("Existing file %s already has the expected %d bytes, skipping download",
		e.req.OutputPath, e.meta.Size)
	return &DownloadOutcome{
		Path:    e.req.OutputPath,
		Size:    info.Size(),
		Elapsed: time.Since(start),
	}
}

// runChunks fetches all planned ranges with at most Connections in flight.
// Dispatch is in ascending index order, admission is by semaphore, and the
// first terminal chunk error cancels every other worker through the group
// context.
func (e *Engine) runChunks(ctx context.Context, ranges []ChunkRange, tempDir string, rw *resumeWriter) ([]ChunkResult, error) {
	g, groupCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.req.Connections)
	results := make([]ChunkResult, len(ranges))
	finalIndex := len(ranges) - 1

	for _, chunk := range ranges {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			defer func() { <-sem }()

			result, err := e.fetchChunk(groupCtx, chunk, chunk.Index == finalIndex, tempDir)
			if err != nil {
				return err
			}
			results[chunk.Index] = result
			if rw != nil {
				rw.markComplete(chunk.Index)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// cleanupFailure removes part files and, when this run already wrote to the
// output path, the incomplete artifact. The resume sidecar is deliberately
// left behind on failure.
func (e *Engine) cleanupFailure(removeArtifact bool) {
	if err := utils.CleanFunction(e.req.OutputPath); err != nil {
		log.Warn().Str("op", "engine").Msgf("Failed to remove part files: %v", err)
	}
	if removeArtifact {
		if err := os.Remove(e.req.OutputPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Str("op", "engine").Msgf("Failed to remove incomplete artifact: %v", err)
		}
	}
}
