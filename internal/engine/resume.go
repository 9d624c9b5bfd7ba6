package engine

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kumodl/kumo/internal/utils"
)

type resumeState struct {
	URL         string    `json:"url"`
	OutputPath  string    `json:"output_path"`
	Size        int64     `json:"size"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	Completed   []int     `json:"completed_chunks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// resumeWriter persists per-chunk completion beside the artifact so an
// external tool or a future run can see how far an interrupted download got.
// The state is write-only: the engine never reads it back, since stored byte
// ranges would need validation before they could be trusted.
type resumeWriter struct {
	path  string
	mu    sync.Mutex
	state resumeState
}

func newResumeWriter(req DownloadRequest, meta FileMetadata, totalChunks int) *resumeWriter {
	now := time.Now()
	rw := &resumeWriter{
		path: req.OutputPath + utils.ResumeSuffix,
		state: resumeState{
			URL:         req.URL,
			OutputPath:  req.OutputPath,
			Size:        meta.Size,
			ChunkSize:   req.ChunkSize,
			TotalChunks: totalChunks,
			Completed:   []int{},
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	rw.flush()
	return rw
}

func (r *resumeWriter) markComplete(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Completed = append(r.state.Completed, index)
	r.state.UpdatedAt = time.Now()
	r.flush()
}

// flush is best-effort, a failed write must never fail the download.
func (r *resumeWriter) flush() {
	data, err := json.MarshalIndent(r.state, "", "  ")
	if err != nil {
		log.Warn().Str("op", "engine/resume").Msgf("Failed to encode resume state: %v", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		log.Warn().Str("op", "engine/resume").Msgf("Failed to write resume state: %v", err)
	}
}

func (r *resumeWriter) clear() {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		log.Warn().Str("op", "engine/resume").Msgf("Failed to remove resume state: %v", err)
	}
}
