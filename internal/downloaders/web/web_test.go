package web

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kumodl/kumo/internal/services"
	"github.com/kumodl/kumo/internal/utils"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	rnd := rand.New(rand.NewSource(7))
	rnd.Read(data)
	return data
}

func TestValidateJob(t *testing.T) {
	d := &WebDownloader{}
	if err := d.ValidateJob(&utils.KumoJob{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if err := d.ValidateJob(&utils.KumoJob{URL: "ftp://host/file"}); !errors.Is(err, services.ErrUnsupportedURL) {
		t.Errorf("expected ErrUnsupportedURL for ftp, got %v", err)
	}
	if err := d.ValidateJob(&utils.KumoJob{URL: "https://example.com/file.zip"}); err != nil {
		t.Errorf("valid https URL rejected: %v", err)
	}
}

func TestServiceSelection(t *testing.T) {
	d := &WebDownloader{}
	tests := []struct {
		name    string
		jobType string
		url     string
		want    string
	}{
		{"http with dropbox link", "http", "https://www.dropbox.com/s/abc123/file.zip?dl=0", "dropbox"},
		{"http with drive link", "http", "https://drive.google.com/file/d/abc123/view", "gdrive"},
		{"http with wetransfer link", "http", "https://wetransfer.com/downloads/tid123/sec456", "wetransfer"},
		{"http with plain link", "http", "https://example.com/file.zip", "http"},
		{"explicit dropbox type", "dropbox", "https://www.dropbox.com/s/abc123/file.zip?dl=0", "dropbox"},
		{"no job type", "", "https://www.dropbox.com/s/abc123/file.zip?dl=0", "dropbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := d.service(&utils.KumoJob{JobType: tt.jobType, URL: tt.url})
			if err != nil {
				t.Fatalf("service: %v", err)
			}
			if svc.Name() != tt.want {
				t.Errorf("service for %q job with %s = %q, want %q", tt.jobType, tt.url, svc.Name(), tt.want)
			}
		})
	}
}

func TestBuildAndDownload(t *testing.T) {
	payload := testPayload(200 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="bundle.tar.gz"`)
		http.ServeContent(w, r, "bundle.tar.gz", time.Time{}, bytes.NewReader(payload))
	}))
	defer server.Close()

	dir := t.TempDir()
	var mu sync.Mutex
	var lastDownloaded, lastTotal int64
	job := &utils.KumoJob{
		JobType:     "http",
		URL:         server.URL + "/archive",
		OutputPath:  dir + "/",
		Connections: 4,
		ChunkSize:   64 * 1024,
		ProgressFunc: func(downloaded, total int64) {
			mu.Lock()
			lastDownloaded, lastTotal = downloaded, total
			mu.Unlock()
		},
	}

	d := &WebDownloader{}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if got := filepath.Base(job.OutputPath); got != "bundle.tar.gz" {
		t.Errorf("output filename = %q, want header-provided name", got)
	}
	if size, _ := job.Metadata["fileSize"].(int64); size != int64(len(payload)) {
		t.Errorf("probed size = %d, want %d", size, len(payload))
	}

	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("downloaded file does not match payload")
	}
	mu.Lock()
	defer mu.Unlock()
	if lastDownloaded != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Errorf("final progress = %d/%d, want %d/%d", lastDownloaded, lastTotal, len(payload), len(payload))
	}
}

func TestExistingVerifiedFileSkipsNetwork(t *testing.T) {
	payload := testPayload(40 * 1024)
	digest := sha256.Sum256(payload)

	var mu sync.Mutex
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(outputPath, payload, 0644); err != nil {
		t.Fatal(err)
	}
	job := &utils.KumoJob{
		JobType:      "http",
		URL:          server.URL + "/file.bin",
		OutputPath:   outputPath,
		ExpectedHash: hex.EncodeToString(digest[:]),
	}

	d := &WebDownloader{}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 0 {
		t.Errorf("matching verified file should produce zero requests, saw %d", requests)
	}
}

func TestExplicitDirectoryOutput(t *testing.T) {
	payload := testPayload(8 * 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer server.Close()

	dir := t.TempDir()
	job := &utils.KumoJob{
		JobType:    "http",
		URL:        server.URL + "/data.bin",
		OutputPath: dir, // existing directory without trailing slash
	}
	d := &WebDownloader{}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob: %v", err)
	}
	if filepath.Dir(job.OutputPath) != dir {
		t.Errorf("output %q not placed inside directory %q", job.OutputPath, dir)
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got, _ := os.ReadFile(job.OutputPath); !bytes.Equal(got, payload) {
		t.Fatal("downloaded file does not match payload")
	}
}
