// Package s3 downloads objects and whole prefixes from Amazon S3 using the
// SDK transfer manager, honoring the shared AWS config and profile chain.
package s3

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kumodl/kumo/internal/utils"
)

type S3Downloader struct{}

func (d *S3Downloader) ValidateJob(job *utils.KumoJob) error {
	bucket, key, err := parseS3URL(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["bucket"] = bucket
	job.Metadata["key"] = key
	log.Debug().Str("op", "s3/validate").Msgf("Job validated for s3://%s/%s", bucket, key)
	return nil
}

func (d *S3Downloader) BuildJob(ctx context.Context, job *utils.KumoJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	profile, _ := job.Metadata["profile"].(string)
	client, err := newS3Client(ctx, profile)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}

	fileType, size, err := objectInfo(ctx, client, bucket, key)
	if err != nil {
		return fmt.Errorf("error getting S3 object info: %v", err)
	}
	job.Metadata["fileType"] = fileType
	job.Metadata["size"] = size
	log.Debug().Str("op", "s3/build").Msgf("Determined object type: %s, size: %d", fileType, size)

	if job.OutputPath == "" {
		if fileType == "folder" {
			parts := strings.Split(strings.TrimSuffix(key, "/"), "/")
			job.OutputPath = parts[len(parts)-1]
			if job.OutputPath == "" {
				job.OutputPath = bucket
			}
		} else {
			parts := strings.Split(key, "/")
			job.OutputPath = parts[len(parts)-1]
		}
	}
	if pathExists(job.OutputPath) {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	job.ProgressType = "progress"
	return nil
}

func (d *S3Downloader) Download(ctx context.Context, job *utils.KumoJob) error {
	bucket := job.Metadata["bucket"].(string)
	key := job.Metadata["key"].(string)
	fileType := job.Metadata["fileType"].(string)
	profile, _ := job.Metadata["profile"].(string)
	client, err := newS3Client(ctx, profile)
	if err != nil {
		return fmt.Errorf("error creating S3 client: %v", err)
	}
	if fileType == "folder" {
		log.Debug().Str("op", "s3/download").Msgf("Starting folder download for s3://%s/%s", bucket, key)
		return d.downloadFolder(ctx, job, client, bucket, key)
	}
	log.Debug().Str("op", "s3/download").Msgf("Starting file download for s3://%s/%s", bucket, key)
	return d.downloadFile(ctx, job, client, bucket, key)
}

func (d *S3Downloader) downloadFile(ctx context.Context, job *utils.KumoJob, client *s3.Client, bucket, key string) error {
	size, _ := job.Metadata["size"].(int64)
	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalDownloaded int64
		for delta := range progressCh {
			totalDownloaded += delta
			if job.ProgressFunc != nil {
				job.ProgressFunc(totalDownloaded, size)
			}
		}
	}()
	err := downloadObject(ctx, client, bucket, key, job.OutputPath, job.Connections, progressCh)
	close(progressCh)
	<-progressDone
	return err
}

func (d *S3Downloader) downloadFolder(ctx context.Context, job *utils.KumoJob, client *s3.Client, bucket, prefix string) error {
	objects, err := listObjects(ctx, client, bucket, prefix)
	if err != nil {
		return fmt.Errorf("error listing objects: %v", err)
	}
	if len(objects) == 0 {
		return fmt.Errorf("no objects found in s3://%s/%s", bucket, prefix)
	}
	var totalSize int64
	for _, obj := range objects {
		totalSize += obj.Size
	}
	log.Debug().Str("op", "s3/download").Msgf("Found %d objects totaling %s under prefix",
		len(objects), utils.FormatBytes(uint64(totalSize)))

	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	var totalDownloaded int64
	go func() {
		defer close(progressDone)
		for delta := range progressCh {
			downloaded := atomic.AddInt64(&totalDownloaded, delta)
			if job.ProgressFunc != nil {
				job.ProgressFunc(downloaded, totalSize)
			}
		}
	}()

	workers := job.Connections
	if workers < 1 {
		workers = 1
	}
	if workers > len(objects) {
		workers = len(objects)
	}
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, obj := range objects {
		g.Go(func() error {
			relPath := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
			outputPath := filepath.Join(job.OutputPath, relPath)
			// each object transfers serially, parallelism comes from the pool
			if err := downloadObject(groupCtx, client, bucket, obj.Key, outputPath, 1, progressCh); err != nil {
				return fmt.Errorf("error downloading %s: %v", obj.Key, err)
			}
			return nil
		})
	}
	err = g.Wait()
	close(progressCh)
	<-progressDone
	return err
}
