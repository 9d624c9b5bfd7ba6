// Package scheduler fans submitted jobs out to their downloaders on a bounded
// worker pool, wiring live progress into the output manager and recording
// every outcome in the history store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kumodl/kumo/internal/downloaders/gdriveapi"
	"github.com/kumodl/kumo/internal/downloaders/gitclone"
	"github.com/kumodl/kumo/internal/downloaders/s3"
	"github.com/kumodl/kumo/internal/downloaders/web"
	"github.com/kumodl/kumo/internal/history"
	"github.com/kumodl/kumo/internal/output"
	"github.com/kumodl/kumo/internal/utils"
)

// downloaderRegistry maps job types to their downloader implementations. The
// web downloader serves every share-link flavor, the rest own their own
// transports.
var downloaderRegistry = map[string]utils.Downloader{
	"http":       &web.WebDownloader{},
	"dropbox":    &web.WebDownloader{},
	"gdrive":     &web.WebDownloader{},
	"wetransfer": &web.WebDownloader{},
	"s3":         &s3.S3Downloader{},
	"gitclone":   &gitclone.GitCloneDownloader{},
	"gdriveapi":  &gdriveapi.GDriveAPIDownloader{},
}

// Run validates and builds every job, then executes them on a pool of
// numWorkers. Validation failures abort the whole run before any transfer
// starts; build and download failures are per-job and reported in the
// summary. Interactive prompts (OAuth consent) happen during the build phase,
// before the live display takes over the terminal. SIGINT and SIGTERM cancel
// all in-flight jobs.
func Run(jobs []utils.KumoJob, numWorkers int, fileLog bool) error {
	if len(jobs) == 0 {
		return errors.New("no jobs to run")
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := range jobs {
		jobs[i].ID = uuid.New().String()
		dl, ok := downloaderRegistry[jobs[i].JobType]
		if !ok {
			return fmt.Errorf("unknown job type: %s", jobs[i].JobType)
		}
		if err := dl.ValidateJob(&jobs[i]); err != nil {
			return fmt.Errorf("invalid %s job %q: %w", jobs[i].JobType, jobs[i].URL, err)
		}
	}

	buildErrs := make([]error, len(jobs))
	for i := range jobs {
		dl := downloaderRegistry[jobs[i].JobType]
		if err := dl.BuildJob(ctx, &jobs[i]); err != nil {
			buildErrs[i] = err
			log.Warn().Str("op", "scheduler").Msgf("Build failed for %s: %v", jobs[i].URL, err)
		}
	}

	store, err := history.Open(history.DefaultPath())
	if err != nil {
		log.Warn().Str("op", "scheduler").Msgf("History unavailable: %v", err)
		store = nil
	} else {
		defer store.Close()
	}

	restoreLogs := redirectLogs(fileLog)
	defer restoreLogs()

	mgr := output.NewManager()
	ids := make([]int, len(jobs))
	for i := range jobs {
		name := jobs[i].OutputPath
		if name == "" {
			name = jobs[i].URL
		}
		ids[i] = mgr.Register(name)
	}
	mgr.StartDisplay()

	// Jobs are independent, one failure must not cancel its siblings, so the
	// pool runs on a bare group and failures are only counted.
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(numWorkers)
	for i := range jobs {
		g.Go(func() error {
			runJob(ctx, mgr, ids[i], &jobs[i], buildErrs[i], store, &failed)
			return nil
		})
	}
	g.Wait()
	mgr.StopDisplay()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d jobs failed", n, len(jobs))
	}
	return nil
}

func runJob(ctx context.Context, mgr *output.Manager, id int, job *utils.KumoJob, buildErr error, store *history.Store, failed *atomic.Int64) {
	started := time.Now()
	if buildErr != nil {
		mgr.ReportError(id, fmt.Errorf("build failed: %v", buildErr))
		record(store, job, started, buildErr)
		failed.Add(1)
		return
	}
	if err := ctx.Err(); err != nil {
		mgr.ReportError(id, fmt.Errorf("cancelled before start"))
		record(store, job, started, err)
		failed.Add(1)
		return
	}

	switch job.ProgressType {
	case "stream":
		job.StreamFunc = func(line string) {
			mgr.AddStreamLine(id, line)
		}
	default:
		job.ProgressFunc = func(downloaded, total int64) {
			text := utils.FormatBytes(uint64(max(0, downloaded)))
			if total > 0 {
				text = fmt.Sprintf("%s / %s", text, utils.FormatBytes(uint64(total)))
			}
			mgr.SetProgress(id, downloaded, total, text)
		}
	}
	mgr.SetStatus(id, "running")
	mgr.SetMessage(id, fmt.Sprintf("Downloading %s", job.OutputPath))

	dl := downloaderRegistry[job.JobType]
	if err := dl.Download(ctx, job); err != nil {
		mgr.ReportError(id, err)
		record(store, job, started, err)
		failed.Add(1)
		return
	}

	message := fmt.Sprintf("Completed %s", job.OutputPath)
	if size, ok := job.Metadata["size"].(int64); ok && size > 0 {
		message = fmt.Sprintf("Completed %s (%s)", job.OutputPath, utils.FormatBytes(uint64(size)))
	}
	mgr.Complete(id, message)
	record(store, job, started, nil)
}

func record(store *history.Store, job *utils.KumoJob, started time.Time, jobErr error) {
	if store == nil {
		return
	}
	entry := history.Entry{
		ID:         job.ID,
		JobType:    job.JobType,
		URL:        job.URL,
		OutputPath: job.OutputPath,
		Status:     history.StatusComplete,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if size, ok := job.Metadata["size"].(int64); ok {
		entry.Size = size
	}
	if hash, ok := job.Metadata["hash"].(string); ok {
		entry.Hash = hash
	}
	if jobErr != nil {
		entry.Status = history.StatusFailed
		entry.Error = jobErr.Error()
	}
	if err := store.Record(entry); err != nil {
		log.Warn().Str("op", "scheduler").Msgf("Could not record history: %v", err)
	}
}

// redirectLogs keeps structured logging off the live display: with fileLog
// the full record goes to the log file, otherwise everything below Error is
// dropped while the display runs.
func redirectLogs(fileLog bool) func() {
	if fileLog {
		f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			utils.SetLogOutput(f)
			return func() {
				utils.SetLogOutput(os.Stderr)
				f.Close()
			}
		}
		log.Warn().Str("op", "scheduler").Msgf("Could not open %s: %v", utils.LogFile, err)
	}
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	return func() {
		zerolog.SetGlobalLevel(prev)
	}
}
