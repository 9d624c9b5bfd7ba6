package utils

import "context"

type Downloader interface {
	Download(ctx context.Context, job *KumoJob) error
	BuildJob(ctx context.Context, job *KumoJob) error
	ValidateJob(job *KumoJob) error
}

type KumoJob struct {
	ID               string
	JobType          string
	OutputPath       string
	ProgressType     string
	ProgressFunc     func(downloaded, total int64)
	StreamFunc       func(line string)
	URL              string
	Connections      int
	ChunkSize        int64
	ExpectedHash     string
	HashAlgo         string
	WriteResume      bool
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type BatchEntry struct {
	OutputPath string `yaml:"op"`
	URL        string `yaml:"link"`
}
