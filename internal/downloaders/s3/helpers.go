package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kumodl/kumo/internal/utils"
)

type s3Object struct {
	Key  string
	Size int64
}

// progressWriter forwards byte counts to the progress channel as the transfer
// manager writes parts, which may land out of order.
type progressWriter struct {
	writer     io.WriterAt
	progressCh chan<- int64
}

func (pw *progressWriter) WriteAt(p []byte, off int64) (int, error) {
	n, err := pw.writer.WriteAt(p, off)
	if n > 0 && pw.progressCh != nil {
		pw.progressCh <- int64(n)
	}
	return n, err
}

func newS3Client(ctx context.Context, profile string) (*s3.Client, error) {
	if profile == "" {
		profile = os.Getenv("AWS_PROFILE")
	}
	if profile == "" {
		profile = "default"
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode("adaptive"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	}), nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func parseS3URL(rawURL string) (string, string, error) {
	if !strings.HasPrefix(rawURL, "s3://") {
		return "", "", fmt.Errorf("S3 URLs must start with s3://")
	}
	parts := strings.SplitN(strings.TrimPrefix(rawURL, "s3://"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("missing bucket in S3 URL")
	}
	bucket := parts[0]
	key := ""
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}

// objectInfo determines whether key names a single object or a folder prefix.
// Folder sizes are unknown up front and reported as -1.
func objectInfo(ctx context.Context, client *s3.Client, bucket, key string) (string, int64, error) {
	headObj, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		size := int64(0)
		if headObj.ContentLength != nil {
			size = *headObj.ContentLength
		}
		return "file", size, nil
	}
	result, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return "", 0, fmt.Errorf("error accessing S3 object: %v", err)
	}
	if len(result.Contents) > 0 || len(result.CommonPrefixes) > 0 {
		return "folder", -1, nil
	}
	return "", 0, fmt.Errorf("S3 object not found")
}

func listObjects(ctx context.Context, client *s3.Client, bucket, prefix string) ([]s3Object, error) {
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %v", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			// skip zero-byte folder markers
			if *obj.Size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3Object{Key: *obj.Key, Size: *obj.Size})
		}
	}
	return objects, nil
}

// downloadObject pulls one object through the SDK transfer manager, which
// splits the object into ranged parts and fetches them concurrently.
func downloadObject(ctx context.Context, client *s3.Client, bucket, key, outputPath string, concurrency int, progressCh chan<- int64) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %v", err)
	}
	defer file.Close()

	if concurrency < 1 {
		concurrency = 1
	}
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 2 * utils.DefaultBufferSize
		d.Concurrency = concurrency
		d.BufferProvider = manager.NewPooledBufferedWriterReadFromProvider(utils.DefaultBufferSize)
	})
	_, err = downloader.Download(ctx, &progressWriter{writer: file, progressCh: progressCh}, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("error downloading S3 object: %v", err)
	}
	return nil
}
