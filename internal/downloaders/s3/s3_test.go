package s3

import (
	"testing"

	"github.com/kumodl/kumo/internal/utils"
)

func jobFor(url string) *utils.KumoJob {
	return &utils.KumoJob{URL: url, Metadata: make(map[string]any)}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{"bucket and key", "s3://my-bucket/path/to/file.bin", "my-bucket", "path/to/file.bin", false},
		{"bucket only", "s3://my-bucket", "my-bucket", "", false},
		{"bucket with trailing slash", "s3://my-bucket/", "my-bucket", "", false},
		{"folder prefix", "s3://data/backups/2024/", "data", "backups/2024/", false},
		{"missing scheme", "https://my-bucket/file", "", "", true},
		{"empty bucket", "s3:///key", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseS3URL(%q): expected error", tt.url)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseS3URL(%q): %v", tt.url, err)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("parseS3URL(%q) = (%q, %q), want (%q, %q)", tt.url, bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestValidateJobStoresBucketAndKey(t *testing.T) {
	d := &S3Downloader{}
	job := jobFor("s3://bucket/some/key.tar")
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob: %v", err)
	}
	if job.Metadata["bucket"] != "bucket" || job.Metadata["key"] != "some/key.tar" {
		t.Errorf("metadata = %v, want bucket and key recorded", job.Metadata)
	}
	if err := d.ValidateJob(jobFor("http://not-s3")); err == nil {
		t.Error("expected error for non-s3 URL")
	}
}
