// Package gdriveapi downloads files and folders through the Google Drive v3
// API, reaching content that share-link scraping cannot: private files, shared
// drives and whole folder trees. It authenticates with either an API key or an
// OAuth client-credentials file and hands the actual transfers to the engine,
// so large files still download in parallel chunks.
package gdriveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kumodl/kumo/internal/engine"
	"github.com/kumodl/kumo/internal/services"
	"github.com/kumodl/kumo/internal/utils"
)

// apiBase is a variable so tests can point the downloader at a local server.
var apiBase = "https://www.googleapis.com/drive/v3"

const folderMimeType = "application/vnd.google-apps.folder"

var driveFolderRegex = regexp.MustCompile(`/drive/(?:u/\d+/)?folders/([a-zA-Z0-9_-]+)`)

type GDriveAPIDownloader struct{}

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	Size        string `json:"size"`
	Md5Checksum string `json:"md5Checksum"`
}

type driveFileList struct {
	Files         []driveFile `json:"files"`
	NextPageToken string      `json:"nextPageToken"`
}

func (f *driveFile) isFolder() bool {
	return f.MimeType == folderMimeType
}

// sizeBytes returns 0 for Docs-native files, which report no size.
func (f *driveFile) sizeBytes() int64 {
	n, err := strconv.ParseInt(f.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type folderEntry struct {
	id      string
	relPath string
	size    int64
	md5     string
}

// extractID resolves both file and folder links. Folder links only make sense
// here, the share-link service cannot serve them.
func extractID(rawURL string) (string, error) {
	if matches := driveFolderRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	return services.ExtractDriveFileID(rawURL)
}

// Drive file names may contain path separators, which would escape the output
// directory when joined.
func sanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

func (d *GDriveAPIDownloader) ValidateJob(job *utils.KumoJob) error {
	if job.URL == "" {
		return fmt.Errorf("no Google Drive URL provided")
	}
	fileID, err := extractID(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	apiKey, _ := job.Metadata["apiKey"].(string)
	credentialsFile, _ := job.Metadata["credentialsFile"].(string)
	if apiKey == "" && credentialsFile == "" {
		return fmt.Errorf("either an API key or a credentials file must be provided")
	}
	if apiKey != "" && credentialsFile != "" {
		return fmt.Errorf("provide an API key or a credentials file, not both")
	}
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return fmt.Errorf("credentials file not accessible: %w", err)
		}
	}
	job.Metadata["fileID"] = fileID
	log.Debug().Str("op", "gdriveapi/validate").Msgf("Job validated for Drive ID %s", fileID)
	return nil
}

// BuildJob acquires credentials, fetches the target's metadata and settles the
// output path. Folder targets are walked up front so the whole tree's size is
// known before the first byte transfers.
func (d *GDriveAPIDownloader) BuildJob(ctx context.Context, job *utils.KumoJob) error {
	fileID, _ := job.Metadata["fileID"].(string)
	credentialsFile, _ := job.Metadata["credentialsFile"].(string)

	token := ""
	if credentialsFile != "" {
		var err error
		token, err = accessTokenFromCredentials(ctx, credentialsFile)
		if err != nil {
			return fmt.Errorf("google drive authentication failed: %w", err)
		}
		job.Metadata["accessToken"] = token
	}
	job.HTTPClientConfig.HighThreadMode = job.Connections > 5
	client := newAPIClient(job, token)

	var meta driveFile
	query := url.Values{}
	query.Set("fields", "id,name,mimeType,size,md5Checksum")
	query.Set("supportsAllDrives", "true")
	if err := apiGet(ctx, client, job, "/files/"+fileID, query, &meta); err != nil {
		return err
	}

	if meta.isFolder() {
		entries, err := walkFolder(ctx, client, job, fileID, "")
		if err != nil {
			return fmt.Errorf("listing folder contents: %w", err)
		}
		var totalSize int64
		for _, entry := range entries {
			totalSize += entry.size
		}
		job.Metadata["fileType"] = "folder"
		job.Metadata["folderEntries"] = entries
		job.Metadata["totalSize"] = totalSize

		folderName := sanitizeName(meta.Name)
		if folderName == "" {
			folderName = fileID
		}
		if job.OutputPath == "" {
			job.OutputPath = folderName
		}
		// An existing directory is merged into, the per-file hash pre-flight
		// skips anything already present and intact.
		if info, err := os.Stat(job.OutputPath); err == nil && !info.IsDir() {
			return fmt.Errorf("output path %s exists and is not a directory", job.OutputPath)
		}
		log.Debug().Str("op", "gdriveapi/build").Msgf("Folder %s holds %d files totaling %s",
			meta.Name, len(entries), utils.FormatBytes(uint64(totalSize)))
	} else {
		fileName := sanitizeName(meta.Name)
		if fileName == "" {
			fileName = "google_drive_file"
		}
		job.Metadata["fileType"] = "file"
		job.Metadata["fileSize"] = meta.sizeBytes()
		job.Metadata["fileName"] = fileName
		job.Metadata["md5"] = meta.Md5Checksum

		if job.OutputPath == "" {
			job.OutputPath = fileName
		} else if info, err := os.Stat(job.OutputPath); err == nil && info.IsDir() {
			job.OutputPath = filepath.Join(job.OutputPath, fileName)
		}
		if dir := filepath.Dir(job.OutputPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
		}
		log.Debug().Str("op", "gdriveapi/build").Msgf("File %s is %s", meta.Name, utils.FormatBytes(uint64(meta.sizeBytes())))
	}
	job.ProgressType = "progress"
	return nil
}

func (d *GDriveAPIDownloader) Download(ctx context.Context, job *utils.KumoJob) error {
	fileType, _ := job.Metadata["fileType"].(string)
	if fileType == "folder" {
		log.Debug().Str("op", "gdriveapi/download").Msgf("Starting folder download for %s", job.URL)
		return d.downloadFolder(ctx, job)
	}
	log.Debug().Str("op", "gdriveapi/download").Msgf("Starting file download for %s", job.URL)
	return d.downloadSingle(ctx, job)
}

func (d *GDriveAPIDownloader) downloadSingle(ctx context.Context, job *utils.KumoJob) error {
	fileID, _ := job.Metadata["fileID"].(string)
	token, _ := job.Metadata["accessToken"].(string)
	fileSize, _ := job.Metadata["fileSize"].(int64)
	fileName, _ := job.Metadata["fileName"].(string)
	md5sum, _ := job.Metadata["md5"].(string)

	// An explicit --expected-hash wins over the checksum the API reports.
	expectedHash := job.ExpectedHash
	hashAlgo := job.HashAlgo
	if expectedHash == "" && md5sum != "" {
		expectedHash = md5sum
		hashAlgo = "md5"
	}

	client := newAPIClient(job, token)
	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalDownloaded int64
		for delta := range progressCh {
			totalDownloaded += delta
			if job.ProgressFunc != nil {
				job.ProgressFunc(totalDownloaded, fileSize)
			}
		}
	}()

	eng := engine.New(client, engine.DownloadRequest{
		URL:          mediaURL(job, fileID),
		OutputPath:   job.OutputPath,
		ExpectedHash: expectedHash,
		HashAlgo:     hashAlgo,
		Connections:  job.Connections,
		ChunkSize:    job.ChunkSize,
		WriteResume:  job.WriteResume,
	}).WithMetadata(engine.FileMetadata{
		Size:         fileSize,
		Filename:     fileName,
		RangeSupport: fileSize > 0,
	}).WithProgress(progressCh)

	outcome, err := eng.Run(ctx)
	close(progressCh)
	<-progressDone
	if err != nil {
		return err
	}
	job.Metadata["size"] = outcome.Size
	if outcome.Hash != "" {
		job.Metadata["hash"] = outcome.Hash
	}
	return nil
}

func (d *GDriveAPIDownloader) downloadFolder(ctx context.Context, job *utils.KumoJob) error {
	entries, _ := job.Metadata["folderEntries"].([]folderEntry)
	totalSize, _ := job.Metadata["totalSize"].(int64)

	if err := os.MkdirAll(job.OutputPath, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if len(entries) == 0 {
		log.Debug().Str("op", "gdriveapi/download").Msg("Folder is empty, nothing to transfer")
		return nil
	}

	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalDownloaded int64
		for delta := range progressCh {
			totalDownloaded += delta
			if job.ProgressFunc != nil {
				job.ProgressFunc(totalDownloaded, totalSize)
			}
		}
	}()

	workers := job.Connections
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range entries {
		g.Go(func() error {
			target := filepath.Join(job.OutputPath, filepath.FromSlash(entry.relPath))
			if err := d.downloadEntry(groupCtx, job, entry, target, progressCh); err != nil {
				return fmt.Errorf("error downloading %s: %v", entry.relPath, err)
			}
			return nil
		})
	}
	err := g.Wait()
	close(progressCh)
	<-progressDone
	return err
}

// downloadEntry transfers one file of a folder tree. Progress flows through a
// counting forwarder so a file the engine skips as already verified still
// advances the aggregate bar by its full size.
func (d *GDriveAPIDownloader) downloadEntry(ctx context.Context, job *utils.KumoJob, entry folderEntry, outputPath string, progressCh chan int64) error {
	token, _ := job.Metadata["accessToken"].(string)
	client := newAPIClient(job, token)

	expectedHash := ""
	hashAlgo := ""
	if entry.md5 != "" {
		expectedHash = entry.md5
		hashAlgo = "md5"
	}

	entryCh := make(chan int64, 100)
	forwardDone := make(chan struct{})
	var counted int64
	go func() {
		defer close(forwardDone)
		for delta := range entryCh {
			counted += delta
			progressCh <- delta
		}
	}()

	eng := engine.New(client, engine.DownloadRequest{
		URL:          mediaURL(job, entry.id),
		OutputPath:   outputPath,
		ExpectedHash: expectedHash,
		HashAlgo:     hashAlgo,
		// each file transfers serially, parallelism comes from the pool
		Connections: 1,
		ChunkSize:   job.ChunkSize,
		WriteResume: job.WriteResume,
	}).WithMetadata(engine.FileMetadata{
		Size:         entry.size,
		Filename:     path.Base(entry.relPath),
		RangeSupport: entry.size > 0,
	}).WithProgress(entryCh)

	_, err := eng.Run(ctx)
	close(entryCh)
	<-forwardDone
	if err == nil && counted < entry.size {
		progressCh <- entry.size - counted
	}
	return err
}

// newAPIClient builds an HTTP client carrying the bearer token when OAuth is
// in play. The header rides on every request, including ranged chunk fetches.
func newAPIClient(job *utils.KumoJob, token string) *utils.KumoHTTPClient {
	client := utils.NewKumoHTTPClient(job.HTTPClientConfig)
	if token != "" {
		client.SetHeader("Authorization", "Bearer "+token)
	}
	return client
}

// mediaURL builds the alt=media endpoint the engine downloads from. API-key
// auth travels as a query parameter, OAuth as the client's bearer header.
func mediaURL(job *utils.KumoJob, fileID string) string {
	u := apiBase + "/files/" + fileID + "?alt=media&supportsAllDrives=true"
	if apiKey, _ := job.Metadata["apiKey"].(string); apiKey != "" {
		u += "&key=" + url.QueryEscape(apiKey)
	}
	return u
}

func apiGet(ctx context.Context, client *utils.KumoHTTPClient, job *utils.KumoJob, endpoint string, query url.Values, out any) error {
	if apiKey, _ := job.Metadata["apiKey"].(string); apiKey != "" {
		query.Set("key", apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", apiBase+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("drive API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("drive API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding drive API response: %w", err)
	}
	return nil
}

// walkFolder lists a folder tree depth first, returning every file with its
// path relative to the root. Empty subfolders produce no entries.
func walkFolder(ctx context.Context, client *utils.KumoHTTPClient, job *utils.KumoJob, folderID, prefix string) ([]folderEntry, error) {
	var entries []folderEntry
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
		query.Set("fields", "files(id,name,mimeType,size,md5Checksum),nextPageToken")
		query.Set("pageSize", "1000")
		query.Set("supportsAllDrives", "true")
		query.Set("includeItemsFromAllDrives", "true")
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var list driveFileList
		if err := apiGet(ctx, client, job, "/files", query, &list); err != nil {
			return nil, err
		}
		for _, f := range list.Files {
			name := sanitizeName(f.Name)
			if f.isFolder() {
				sub, err := walkFolder(ctx, client, job, f.ID, path.Join(prefix, name))
				if err != nil {
					return nil, err
				}
				entries = append(entries, sub...)
				continue
			}
			entries = append(entries, folderEntry{
				id:      f.ID,
				relPath: path.Join(prefix, name),
				size:    f.sizeBytes(),
				md5:     f.Md5Checksum,
			})
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return entries, nil
}
