package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestBackoffDelayBounds(t *testing.T) {
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 450 * time.Millisecond, 550 * time.Millisecond},
		{2, 900 * time.Millisecond, 1100 * time.Millisecond},
		{3, 1800 * time.Millisecond, 2200 * time.Millisecond},
		{7, 27 * time.Second, 33 * time.Second},  // capped
		{20, 27 * time.Second, 33 * time.Second}, // shift would overflow without the cap
	}
	for _, tt := range tests {
		for i := 0; i < 50; i++ {
			got := backoffDelay(tt.attempt)
			if got < tt.min || got > tt.max {
				t.Fatalf("backoffDelay(%d) = %s, want within [%s, %s]", tt.attempt, got, tt.min, tt.max)
			}
		}
	}
}

func TestRun416OnMiddleChunkIsFatal(t *testing.T) {
	payload := testPayload(300 * 1024)
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && rangeStart(r.Header.Get("Range")) == 100*1024 {
			mu.Lock()
			attempts++
			mu.Unlock()
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(payload)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	_, err := New(testClient(), DownloadRequest{
		URL:         server.URL,
		OutputPath:  outputPath,
		Connections: 3,
		ChunkSize:   100 * 1024,
	}).Run(context.Background())

	if !errors.Is(err, ErrUnexpectedRange) {
		t.Fatalf("expected ErrUnexpectedRange, got %v", err)
	}
	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) || chunkErr.Index != 1 {
		t.Fatalf("expected ChunkError for index 1, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 1 {
		t.Errorf("a mid-file 416 must not be retried, saw %d attempts", attempts)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Error("no artifact should exist after a fatal range error")
	}
}

// A final chunk beyond the true end of the file is tolerated at fetch time,
// then the size check catches the shortfall against the advertised length.
func TestRunFinalChunkRangeOvershoot(t *testing.T) {
	trueSize := 200 * 1024
	reported := 250 * 1024
	payload := testPayload(trueSize)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(reported))
			w.Header().Set("Accept-Ranges", "bytes")
			return
		}
		var start, end int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		if start >= int64(trueSize) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", trueSize))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end >= int64(trueSize) {
			end = int64(trueSize) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, trueSize))
		w.Header().Set("Content-Length", fmt.Sprint(end-start+1))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[start : end+1])
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	_, err := New(testClient(), DownloadRequest{
		URL:         server.URL,
		OutputPath:  outputPath,
		Connections: 3,
		ChunkSize:   100 * 1024,
	}).Run(context.Background())

	var sizeErr *SizeError
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected SizeError, got %v", err)
	}
	if sizeErr.Want != int64(reported) || sizeErr.Got != int64(trueSize) {
		t.Errorf("SizeError want/got = %d/%d, expected %d/%d", sizeErr.Want, sizeErr.Got, reported, trueSize)
	}
	if _, statErr := os.Stat(outputPath); !os.IsNotExist(statErr) {
		t.Error("undersized artifact must be deleted")
	}
}

// A 416 on the only transfer of a download is always an error, resume
// offsets notwithstanding.
func TestRunWholeFile416IsFatal(t *testing.T) {
	reported := 100 * 1024
	var mu sync.Mutex
	gets := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(reported))
			return
		}
		mu.Lock()
		gets++
		n := gets
		mu.Unlock()
		if n == 1 {
			// promise the full body, deliver a fragment, drop the connection
			w.Header().Set("Content-Length", fmt.Sprint(reported))
			w.Write(testPayload(10 * 1024))
			return
		}
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	_, err := New(testClient(), DownloadRequest{
		URL:        server.URL,
		OutputPath: outputPath,
		MaxRetries: 3,
	}).Run(context.Background())

	if !errors.Is(err, ErrUnexpectedRange) {
		t.Fatalf("expected ErrUnexpectedRange, got %v", err)
	}
	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) || chunkErr.Index != 0 {
		t.Fatalf("expected ChunkError for the single stream, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gets != 2 {
		t.Errorf("expected exactly one retry before the fatal 416, saw %d GETs", gets)
	}
}

func TestRunWholeFileResumesAfterDroppedConnection(t *testing.T) {
	payload := testPayload(80 * 1024)
	cut := 30 * 1024
	var mu sync.Mutex
	gets := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			return
		}
		mu.Lock()
		gets++
		n := gets
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
			w.Write(payload[:cut])
			return
		}
		offset := rangeStart(r.Header.Get("Range"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		w.Header().Set("Content-Length", fmt.Sprint(int64(len(payload))-offset))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[offset:])
	}))
	defer server.Close()

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	_, err := New(testClient(), DownloadRequest{
		URL:        server.URL,
		OutputPath: outputPath,
		MaxRetries: 3,
	}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := os.ReadFile(outputPath)
	if !bytes.Equal(got, payload) {
		t.Fatal("resumed download does not match payload")
	}
	mu.Lock()
	defer mu.Unlock()
	if gets != 2 {
		t.Errorf("expected one resume attempt, saw %d GETs", gets)
	}
}
