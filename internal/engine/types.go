package engine

import "time"

const (
	DefaultConnections = 8
	MaxConnections     = 64
	DefaultMaxRetries  = 5
)

// DownloadRequest describes one download. Immutable for the lifetime of the
// engine invocation it is handed to.
type DownloadRequest struct {
	URL          string
	OutputPath   string
	ExpectedHash string // hex digest, optional
	HashAlgo     string // md5, sha1, sha256 or sha512; inferred from digest length when empty
	Connections  int
	ChunkSize    int64
	MaxRetries   int // attempt budget per chunk
	WriteResume  bool
}

// FileMetadata is derived once from the probe response and never mutated.
// A Size of 0 means the server did not report a usable length and the
// transfer runs in whole-file mode.
type FileMetadata struct {
	Size         int64
	Filename     string
	RangeSupport bool
}

// ChunkRange is one contiguous byte range of the partition. Offsets are
// inclusive on both ends.
type ChunkRange struct {
	Index int
	Start int64
	End   int64
}

func (c ChunkRange) Length() int64 {
	return c.End - c.Start + 1
}

// ChunkResult records the part file holding one fetched range. Size equals
// the range length except for the tolerated empty final-chunk case.
type ChunkResult struct {
	Index int
	Path  string
	Size  int64
}

// DownloadOutcome is returned only after verification succeeds.
type DownloadOutcome struct {
	Path       string
	Size       int64
	Hash       string
	Elapsed    time.Duration
	Throughput float64 // bytes per second
}
