package gdriveapi

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kumodl/kumo/internal/utils"
)

func drivePayload(n int, seed byte) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i%251) ^ seed
	}
	return payload
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://drive.google.com/file/d/1A2b3C/view?usp=sharing", want: "1A2b3C"},
		{url: "https://drive.google.com/drive/folders/9Xy_z-8", want: "9Xy_z-8"},
		{url: "https://drive.google.com/drive/u/0/folders/fold123", want: "fold123"},
		{url: "https://drive.google.com/open?id=openid1", want: "openid1"},
		{url: "https://drive.google.com/uc?export=download&id=ucid22", want: "ucid22"},
		{url: "https://example.com/file.zip", wantErr: true},
	}
	for _, tt := range tests {
		got, err := extractID(tt.url)
		if tt.wantErr {
			if err == nil {
				t.Errorf("extractID(%q) expected error, got %q", tt.url, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("extractID(%q) error = %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("extractID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestValidateJob(t *testing.T) {
	d := &GDriveAPIDownloader{}
	fileURL := "https://drive.google.com/file/d/abc123/view"

	if err := d.ValidateJob(&utils.KumoJob{URL: fileURL}); err == nil {
		t.Error("expected error without any credentials")
	}

	job := &utils.KumoJob{URL: fileURL, Metadata: map[string]any{"apiKey": "k", "credentialsFile": "c.json"}}
	if err := d.ValidateJob(job); err == nil {
		t.Error("expected error when both auth modes are given")
	}

	job = &utils.KumoJob{URL: fileURL, Metadata: map[string]any{"apiKey": "k"}}
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error = %v", err)
	}
	if got, _ := job.Metadata["fileID"].(string); got != "abc123" {
		t.Errorf("fileID = %q, want abc123", got)
	}

	missing := filepath.Join(t.TempDir(), "nope.json")
	job = &utils.KumoJob{URL: fileURL, Metadata: map[string]any{"credentialsFile": missing}}
	if err := d.ValidateJob(job); err == nil {
		t.Error("expected error for unreadable credentials file")
	}

	credFile := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(credFile, []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	job = &utils.KumoJob{URL: fileURL, Metadata: map[string]any{"credentialsFile": credFile}}
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() with readable credentials error = %v", err)
	}
}

// driveMock emulates the two v3 endpoints the downloader touches: files.get
// (metadata and alt=media) and files.list. ServeContent gives the media
// endpoint real Range support, so chunked engine transfers work against it.
type driveMock struct {
	mu        sync.Mutex
	files     map[string]driveFile
	content   map[string][]byte
	listings  map[string][]driveFile
	mediaHits map[string]int
	keys      map[string]bool
}

func newDriveMock() *driveMock {
	return &driveMock{
		files:     make(map[string]driveFile),
		content:   make(map[string][]byte),
		listings:  make(map[string][]driveFile),
		mediaHits: make(map[string]int),
		keys:      make(map[string]bool),
	}
}

func (m *driveMock) addFile(id, name string, payload []byte) driveFile {
	f := driveFile{ID: id, Name: name, MimeType: "application/octet-stream",
		Size: fmt.Sprintf("%d", len(payload)), Md5Checksum: md5Hex(payload)}
	m.files[id] = f
	m.content[id] = payload
	return f
}

func (m *driveMock) addFolder(id, name string) driveFile {
	f := driveFile{ID: id, Name: name, MimeType: folderMimeType}
	m.files[id] = f
	return f
}

func (m *driveMock) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/files" {
			q := r.URL.Query().Get("q")
			for id, listing := range m.listings {
				if strings.Contains(q, "'"+id+"'") {
					json.NewEncoder(w).Encode(driveFileList{Files: listing})
					return
				}
			}
			json.NewEncoder(w).Encode(driveFileList{})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/files/")
		if r.URL.Query().Get("alt") == "media" {
			m.mu.Lock()
			m.mediaHits[id]++
			m.keys[r.URL.Query().Get("key")] = true
			m.mu.Unlock()
			payload, ok := m.content[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			http.ServeContent(w, r, id, time.Now(), bytes.NewReader(payload))
			return
		}
		f, ok := m.files[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(f)
	})
}

func (m *driveMock) hits(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mediaHits[id]
}

func withMockAPI(t *testing.T, mock *driveMock) {
	t.Helper()
	server := httptest.NewServer(mock.handler())
	oldBase := apiBase
	apiBase = server.URL
	t.Cleanup(func() {
		apiBase = oldBase
		server.Close()
	})
}

func TestBuildAndDownloadFile(t *testing.T) {
	payload := drivePayload(300*1024, 7)
	mock := newDriveMock()
	mock.addFile("reportx", "report.bin", payload)
	withMockAPI(t, mock)

	dir := t.TempDir()
	job := &utils.KumoJob{
		URL:         "https://drive.google.com/file/d/reportx/view",
		OutputPath:  dir,
		Connections: 3,
		ChunkSize:   100 * 1024,
		Metadata:    map[string]any{"apiKey": "k123"},
	}
	d := &GDriveAPIDownloader{}
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error = %v", err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob() error = %v", err)
	}
	if want := filepath.Join(dir, "report.bin"); job.OutputPath != want {
		t.Fatalf("OutputPath = %q, want %q", job.OutputPath, want)
	}
	if size, _ := job.Metadata["fileSize"].(int64); size != int64(len(payload)) {
		t.Errorf("fileSize = %d, want %d", size, len(payload))
	}

	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded %d bytes, payload differs from original", len(got))
	}
	if hash, _ := job.Metadata["hash"].(string); hash != md5Hex(payload) {
		t.Errorf("hash = %q, want %q", hash, md5Hex(payload))
	}
	// three ranged chunk fetches, nothing else touches the media endpoint
	if hits := mock.hits("reportx"); hits != 3 {
		t.Errorf("media requests = %d, want 3", hits)
	}
	mock.mu.Lock()
	sawKey := mock.keys["k123"]
	mock.mu.Unlock()
	if !sawKey {
		t.Error("API key did not travel on media requests")
	}
}

func TestBuildAndDownloadFolder(t *testing.T) {
	payloadA := drivePayload(1000, 1)
	payloadB := drivePayload(2000, 2)
	mock := newDriveMock()
	mock.addFolder("bundlef", "bundle")
	sub := mock.addFolder("subf1", "sub")
	fileA := mock.addFile("fa1", "a.txt", payloadA)
	fileB := mock.addFile("fb2", "b.bin", payloadB)
	mock.listings["bundlef"] = []driveFile{sub, fileA}
	mock.listings["subf1"] = []driveFile{fileB}
	withMockAPI(t, mock)

	dir := t.TempDir()
	job := &utils.KumoJob{
		URL:         "https://drive.google.com/drive/folders/bundlef",
		OutputPath:  filepath.Join(dir, "bundle"),
		Connections: 2,
		Metadata:    map[string]any{"apiKey": "k123"},
	}
	var lastDownloaded, lastTotal int64
	job.ProgressFunc = func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	}

	d := &GDriveAPIDownloader{}
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error = %v", err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob() error = %v", err)
	}
	if ft, _ := job.Metadata["fileType"].(string); ft != "folder" {
		t.Fatalf("fileType = %q, want folder", ft)
	}
	if total, _ := job.Metadata["totalSize"].(int64); total != 3000 {
		t.Errorf("totalSize = %d, want 3000", total)
	}

	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	gotA, err := os.ReadFile(filepath.Join(dir, "bundle", "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotA, payloadA) {
		t.Error("a.txt content differs from original")
	}
	gotB, err := os.ReadFile(filepath.Join(dir, "bundle", "sub", "b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotB, payloadB) {
		t.Error("sub/b.bin content differs from original")
	}
	if lastDownloaded != 3000 || lastTotal != 3000 {
		t.Errorf("final progress = %d/%d, want 3000/3000", lastDownloaded, lastTotal)
	}
}

func TestDownloadFolderSkipsVerifiedFiles(t *testing.T) {
	payloadA := drivePayload(1000, 1)
	payloadB := drivePayload(2000, 2)
	mock := newDriveMock()
	mock.addFolder("bundlef", "bundle")
	fileA := mock.addFile("fa1", "a.txt", payloadA)
	fileB := mock.addFile("fb2", "b.bin", payloadB)
	mock.listings["bundlef"] = []driveFile{fileA, fileB}
	withMockAPI(t, mock)

	dir := t.TempDir()
	outDir := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		t.Fatal(err)
	}
	// a.txt is already present and intact, only b.bin should transfer
	if err := os.WriteFile(filepath.Join(outDir, "a.txt"), payloadA, 0644); err != nil {
		t.Fatal(err)
	}

	job := &utils.KumoJob{
		URL:         "https://drive.google.com/drive/folders/bundlef",
		OutputPath:  outDir,
		Connections: 2,
		Metadata:    map[string]any{"apiKey": "k123"},
	}
	var lastDownloaded, lastTotal int64
	job.ProgressFunc = func(downloaded, total int64) {
		lastDownloaded, lastTotal = downloaded, total
	}

	d := &GDriveAPIDownloader{}
	if err := d.ValidateJob(job); err != nil {
		t.Fatalf("ValidateJob() error = %v", err)
	}
	if err := d.BuildJob(context.Background(), job); err != nil {
		t.Fatalf("BuildJob() error = %v", err)
	}
	if err := d.Download(context.Background(), job); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if hits := mock.hits("fa1"); hits != 0 {
		t.Errorf("verified file fetched %d times, want 0", hits)
	}
	if hits := mock.hits("fb2"); hits == 0 {
		t.Error("missing file was never fetched")
	}
	// the skipped file still advances the aggregate progress by its size
	if lastDownloaded != 3000 || lastTotal != 3000 {
		t.Errorf("final progress = %d/%d, want 3000/3000", lastDownloaded, lastTotal)
	}
}
