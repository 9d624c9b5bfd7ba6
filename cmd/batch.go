package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kumodl/kumo/internal/utils"
)

// jobTypeAliases maps the names accepted in batch files to canonical job
// types. An empty lookup result means the section is unknown.
var jobTypeAliases = map[string]string{
	"http":         "http",
	"https":        "http",
	"dropbox":      "dropbox",
	"dbx":          "dropbox",
	"gdrive":       "gdrive",
	"gd":           "gdrive",
	"googledrive":  "gdrive",
	"google-drive": "gdrive",
	"wetransfer":   "wetransfer",
	"wt":           "wetransfer",
	"s3":           "s3",
	"gitclone":     "gitclone",
	"git-clone":    "gitclone",
	"git":          "gitclone",
}

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Run multiple downloads from a YAML file",
		Long: `Run every download listed in a YAML file.

Top-level keys are job types (http, dropbox, gdrive, wetransfer, s3,
git-clone, or their short aliases) and each section lists entries with a
link and an optional op output path:

  http:
    - link: https://example.com/file.zip
      op: downloads/file.zip
  gd:
    - link: https://drive.google.com/file/d/abc123/view`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading batch file: %v\n", err)
				os.Exit(1)
			}
			var batch map[string][]utils.BatchEntry
			if err := yaml.Unmarshal(data, &batch); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing batch file: %v\n", err)
				os.Exit(1)
			}
			jobs := buildBatchJobs(batch)
			if len(jobs) == 0 {
				fmt.Fprintln(os.Stderr, "No valid jobs found in the batch file")
				os.Exit(1)
			}
			runJobs(jobs)
		},
	}
}

func buildBatchJobs(batch map[string][]utils.BatchEntry) []utils.KumoJob {
	var jobs []utils.KumoJob
	for section, entries := range batch {
		jobType := jobTypeAliases[strings.ToLower(section)]
		if jobType == "" {
			fmt.Fprintf(os.Stderr, "Warning: unknown job type %q, skipping section\n", section)
			continue
		}
		for _, entry := range entries {
			if entry.URL == "" {
				fmt.Fprintf(os.Stderr, "Warning: empty link in %q section, skipping entry\n", section)
				continue
			}
			job := newWebJob(jobType, entry.URL, entry.OutputPath)
			switch jobType {
			case "gitclone":
				job.ProgressType = "stream"
			case "s3":
				job.Metadata["profile"] = "default"
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}
