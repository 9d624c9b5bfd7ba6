package cmd

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kumodl/kumo/internal/utils"
)

func TestBuildBatchJobs(t *testing.T) {
	raw := `
http:
  - link: https://example.com/a.zip
    op: out/a.zip
gd:
  - link: https://drive.google.com/file/d/abc123/view
  - link: ""
dbx:
  - link: https://www.dropbox.com/s/xyz/file.txt
git:
  - link: github.com/owner/repo
s3:
  - link: s3://bucket/key.bin
torrent:
  - link: magnet:?xt=urn:btih:deadbeef
`
	var batch map[string][]utils.BatchEntry
	if err := yaml.Unmarshal([]byte(raw), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	jobs := buildBatchJobs(batch)
	if len(jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(jobs))
	}

	byType := make(map[string]utils.KumoJob)
	for _, job := range jobs {
		byType[job.JobType] = job
	}
	for _, want := range []string{"http", "gdrive", "dropbox", "gitclone", "s3"} {
		if _, ok := byType[want]; !ok {
			t.Errorf("no job with type %q", want)
		}
	}
	if _, ok := byType["torrent"]; ok {
		t.Error("unknown section should have been skipped")
	}

	if got := byType["http"].OutputPath; got != "out/a.zip" {
		t.Errorf("http output path = %q, want out/a.zip", got)
	}
	if got := byType["gitclone"].ProgressType; got != "stream" {
		t.Errorf("gitclone progress type = %q, want stream", got)
	}
	if got := byType["s3"].Metadata["profile"]; got != "default" {
		t.Errorf("s3 profile = %v, want default", got)
	}
	if got := byType["dropbox"].ProgressType; got != "progress" {
		t.Errorf("dropbox progress type = %q, want progress", got)
	}
}

func TestJobTypeAliases(t *testing.T) {
	cases := map[string]string{
		"HTTPS":        "http",
		"Git-Clone":    "gitclone",
		"googledrive":  "gdrive",
		"WT":           "wetransfer",
		"DBX":          "dropbox",
		"s3":           "s3",
		"bittorrent":   "",
	}
	for input, want := range cases {
		if got := jobTypeAliases[strings.ToLower(input)]; got != want {
			t.Errorf("alias %q = %q, want %q", input, got, want)
		}
	}
}
