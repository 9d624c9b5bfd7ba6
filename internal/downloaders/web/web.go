// Package web adapts the download engine to shared-link services. One
// downloader covers direct HTTP along with Dropbox, Google Drive and
// WeTransfer share links; the services registry supplies per-service URL
// translation and the engine does the actual transfer.
package web

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kumodl/kumo/internal/engine"
	"github.com/kumodl/kumo/internal/services"
	"github.com/kumodl/kumo/internal/utils"
)

type WebDownloader struct{}

func (d *WebDownloader) ValidateJob(job *utils.KumoJob) error {
	if job.URL == "" {
		return fmt.Errorf("no URL provided")
	}
	if _, err := d.service(job); err != nil {
		return err
	}
	return nil
}

// service picks the handler for the job. Explicit job types pin their
// service; the generic http type goes through URL detection so a share link
// pasted into `kumo http` is still rewritten instead of fetching the
// service's preview page.
func (d *WebDownloader) service(job *utils.KumoJob) (services.Service, error) {
	if job.JobType != "" && job.JobType != "http" {
		if svc := services.Lookup(job.JobType); svc != nil {
			return svc, nil
		}
	}
	return services.Detect(job.URL)
}

// BuildJob resolves the share link, probes the target and settles the output
// path. The resolved URL and probe results are stashed in job metadata so
// Download does not repeat the network round trips.
func (d *WebDownloader) BuildJob(ctx context.Context, job *utils.KumoJob) error {
	svc, err := d.service(job)
	if err != nil {
		return err
	}
	resolved, err := svc.Resolve(job.URL)
	if err != nil {
		return err
	}

	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}

	finalizer, needsFinalize := svc.(services.Finalizer)

	// An explicitly named file that already exists can be settled by the
	// engine's own pre-flight checks, which probe only when they must. Links
	// that still need server-side resolution cannot take this shortcut.
	if !needsFinalize && job.OutputPath != "" && !strings.HasSuffix(job.OutputPath, "/") {
		if info, statErr := os.Stat(job.OutputPath); statErr == nil && info.Mode().IsRegular() {
			job.Metadata["resolvedURL"] = resolved
			job.Metadata["deferProbe"] = true
			job.ProgressType = "progress"
			return nil
		}
	}

	client := utils.NewKumoHTTPClient(job.HTTPClientConfig)
	if needsFinalize {
		resolved, err = finalizer.Finalize(ctx, client, resolved)
		if err != nil {
			return fmt.Errorf("resolving %s link: %w", svc.Name(), err)
		}
	}

	meta, headers, err := engine.Probe(ctx, client, resolved)
	if err != nil {
		return err
	}
	log.Debug().Str("op", "web/build").Msgf("Probed %s: size=%d rangeSupport=%v", job.URL, meta.Size, meta.RangeSupport)

	filename := svc.Filename(job.URL, headers)
	switch {
	case job.OutputPath == "":
		job.OutputPath = filename
	case strings.HasSuffix(job.OutputPath, "/"):
		job.OutputPath = filepath.Join(job.OutputPath, filename)
	default:
		if info, statErr := os.Stat(job.OutputPath); statErr == nil && info.IsDir() {
			job.OutputPath = filepath.Join(job.OutputPath, filename)
		}
	}
	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	job.Metadata["resolvedURL"] = resolved
	job.Metadata["fileSize"] = meta.Size
	job.Metadata["rangeSupported"] = meta.RangeSupport
	job.ProgressType = "progress"
	return nil
}

func (d *WebDownloader) Download(ctx context.Context, job *utils.KumoJob) error {
	resolved, _ := job.Metadata["resolvedURL"].(string)
	if resolved == "" {
		resolved = job.URL
	}
	fileSize, _ := job.Metadata["fileSize"].(int64)
	rangeSupported, _ := job.Metadata["rangeSupported"].(bool)

	client := utils.NewKumoHTTPClient(job.HTTPClientConfig)
	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalBytes int64
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case delta, ok := <-progressCh:
				if !ok {
					if job.ProgressFunc != nil {
						job.ProgressFunc(totalBytes, fileSize)
					}
					return
				}
				totalBytes += delta
			case <-ticker.C:
				if job.ProgressFunc != nil {
					job.ProgressFunc(totalBytes, fileSize)
				}
			}
		}
	}()

	eng := engine.New(client, engine.DownloadRequest{
		URL:          resolved,
		OutputPath:   job.OutputPath,
		ExpectedHash: job.ExpectedHash,
		HashAlgo:     job.HashAlgo,
		Connections:  job.Connections,
		ChunkSize:    job.ChunkSize,
		WriteResume:  job.WriteResume,
	}).WithProgress(progressCh)
	if deferred, _ := job.Metadata["deferProbe"].(bool); !deferred {
		eng = eng.WithMetadata(engine.FileMetadata{
			Size:         fileSize,
			RangeSupport: rangeSupported,
		})
	}

	outcome, err := eng.Run(ctx)
	close(progressCh)
	<-progressDone
	if err != nil {
		return err
	}

	job.Metadata["size"] = outcome.Size
	job.Metadata["elapsed"] = outcome.Elapsed
	if outcome.Hash != "" {
		job.Metadata["hash"] = outcome.Hash
	}
	log.Debug().Str("op", "web/download").Msgf("Downloaded %s (%s in %s, %s)",
		outcome.Path, utils.FormatBytes(uint64(outcome.Size)),
		outcome.Elapsed.Round(time.Millisecond), utils.FormatSpeed(outcome.Size, outcome.Elapsed.Seconds()))
	return nil
}
