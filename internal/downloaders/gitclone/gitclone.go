// Package gitclone clones repositories from the major hosting providers,
// streaming server-side progress lines into the job output.
package gitclone

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/kumodl/kumo/internal/utils"
)

type GitCloneDownloader struct{}

func (d *GitCloneDownloader) ValidateJob(job *utils.KumoJob) error {
	provider, owner, repo, err := parseGitURL(job.URL)
	if err != nil {
		return err
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.Metadata["provider"] = provider
	job.Metadata["owner"] = owner
	job.Metadata["repo"] = repo
	return nil
}

func (d *GitCloneDownloader) BuildJob(ctx context.Context, job *utils.KumoJob) error {
	provider := job.Metadata["provider"].(string)
	owner := job.Metadata["owner"].(string)
	repo := job.Metadata["repo"].(string)
	job.Metadata["cloneURL"] = fmt.Sprintf("https://%s/%s/%s", provider, owner, repo)

	if job.OutputPath == "" {
		job.OutputPath = repo
	}
	if info, err := os.Stat(job.OutputPath); err == nil && info.IsDir() {
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}
	job.ProgressType = "stream"
	return nil
}

// cloneProgress relays go-git's sideband progress messages line by line.
type cloneProgress struct {
	streamFunc func(string)
}

func (p *cloneProgress) Write(data []byte) (int, error) {
	message := strings.TrimSpace(string(data))
	if message != "" && p.streamFunc != nil {
		p.streamFunc(message)
	}
	return len(data), nil
}

func (d *GitCloneDownloader) Download(ctx context.Context, job *utils.KumoJob) error {
	cloneURL := job.Metadata["cloneURL"].(string)
	depth, _ := job.Metadata["depth"].(int)

	auth, err := authMethod(cloneURL, job.Metadata)
	if err != nil && err != errNoAuth && job.StreamFunc != nil {
		job.StreamFunc(fmt.Sprintf("Warning: %v", err))
	}

	cloneOptions := &git.CloneOptions{
		URL:      cloneURL,
		Progress: &cloneProgress{streamFunc: job.StreamFunc},
		Auth:     auth,
	}
	if depth > 0 {
		cloneOptions.Depth = depth
	}

	if job.StreamFunc != nil {
		job.StreamFunc(fmt.Sprintf("Cloning %s", cloneURL))
	}
	if _, err := git.PlainCloneContext(ctx, job.OutputPath, false, cloneOptions); err != nil {
		return fmt.Errorf("git clone failed: %v", err)
	}

	if size, err := dirSize(job.OutputPath); err == nil {
		job.Metadata["size"] = size
		if job.StreamFunc != nil {
			job.StreamFunc(fmt.Sprintf("Clone complete - Total size: %s", utils.FormatBytes(uint64(size))))
		}
	}
	return nil
}

// dirSize prefers du where present, walking the tree otherwise.
func dirSize(path string) (int64, error) {
	if runtime.GOOS == "linux" || runtime.GOOS == "darwin" {
		output, err := exec.Command("du", "-s", "-b", path).CombinedOutput()
		if err == nil {
			parts := strings.Split(string(output), "\t")
			if len(parts) > 0 {
				if size, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64); err == nil {
					return size, nil
				}
			}
		}
	}
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func parseGitURL(url string) (string, string, string, error) {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, ".git")
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	if rest, ok := strings.CutPrefix(url, "git@"); ok {
		// scp-style git@host:owner/repo
		url = strings.Replace(rest, ":", "/", 1)
	}

	parts := strings.Split(url, "/")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("invalid git URL format, expected provider/owner/repo")
	}
	provider, owner, repo := parts[0], parts[1], parts[2]
	switch provider {
	case "github.com", "gitlab.com", "bitbucket.org":
	default:
		return "", "", "", fmt.Errorf("unsupported git provider: %s", provider)
	}
	if owner == "" || repo == "" {
		return "", "", "", fmt.Errorf("invalid git URL format, expected provider/owner/repo")
	}
	return provider, owner, repo, nil
}
