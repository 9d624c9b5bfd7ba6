package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"under a kilobyte", 512, "512 B"},
		{"exact kilobyte", 1024, "1.00 KB"},
		{"megabytes", 5 * 1024 * 1024, "5.00 MB"},
		{"gigabytes", 3 * 1024 * 1024 * 1024, "3.00 GB"},
		{"fractional", 1536, "1.50 KB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestFormatSpeed(t *testing.T) {
	if got := FormatSpeed(0, 0); got != "0 B/s" {
		t.Errorf("FormatSpeed(0, 0) = %q, want %q", got, "0 B/s")
	}
	if got := FormatSpeed(2*1024*1024, 1); got != "2.00 MB/s" {
		t.Errorf("FormatSpeed = %q, want %q", got, "2.00 MB/s")
	}
}

func TestParseHeaderArgs(t *testing.T) {
	headers := ParseHeaderArgs([]string{
		"Authorization: Bearer token123",
		"X-Custom:value",
		"malformed-no-colon",
	})
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(headers))
	}
	if headers["Authorization"] != "Bearer token123" {
		t.Errorf("Authorization = %q", headers["Authorization"])
	}
	if headers["X-Custom"] != "value" {
		t.Errorf("X-Custom = %q", headers["X-Custom"])
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{"plain bytes", "1024", 1024, false},
		{"kilobytes", "4KB", 4096, false},
		{"megabytes", "2MB", 2 * 1024 * 1024, false},
		{"lowercase", "2mb", 2 * 1024 * 1024, false},
		{"short suffix", "1G", 1024 * 1024 * 1024, false},
		{"fractional", "1.5K", 1536, false},
		{"empty", "", 0, true},
		{"garbage", "abc", 0, true},
		{"negative", "-5MB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanFunction(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "file.zip")
	tempDir := filepath.Join(dir, TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"file.zip.part0", "file.zip.part1"} {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(outputPath+ResumeSuffix, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CleanFunction(outputPath); err != nil {
		t.Fatalf("CleanFunction: %v", err)
	}
	if _, err := os.Stat(outputPath + ResumeSuffix); err != nil {
		t.Error("resume sidecar must survive part-file cleanup")
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Error("empty temp dir should have been removed")
	}
}

func TestCleanFunctionLeavesOtherJobs(t *testing.T) {
	dir := t.TempDir()
	tempDir := filepath.Join(dir, TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatal(err)
	}
	mine := filepath.Join(tempDir, "file.zip.part0")
	other := filepath.Join(tempDir, "other.bin.part0")
	for _, name := range []string{mine, other} {
		if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if err := CleanFunction(filepath.Join(dir, "file.zip")); err != nil {
		t.Fatalf("CleanFunction: %v", err)
	}
	if _, err := os.Stat(mine); !os.IsNotExist(err) {
		t.Error("own part file should have been removed")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("another job's part file should have been left alone")
	}
	if _, err := os.Stat(tempDir); err != nil {
		t.Error("temp dir still holding parts should not be removed")
	}
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.zip")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	renewed := RenewOutputPath(path)
	if renewed != filepath.Join(dir, "file-(1).zip") {
		t.Errorf("RenewOutputPath = %q", renewed)
	}
	if err := os.WriteFile(renewed, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	renewed2 := RenewOutputPath(path)
	if renewed2 != filepath.Join(dir, "file-(2).zip") {
		t.Errorf("RenewOutputPath second = %q", renewed2)
	}
}
