package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newGDriveCmd() *cobra.Command {
	var outputPath string
	var apiKey string
	var credentialsFile string

	cmd := &cobra.Command{
		Use:   "gdrive [URL]",
		Short: "Download files or folders from Google Drive",
		Long: `Download from a Google Drive link.

Public files download straight from the share link, including the
virus-scan confirmation dance for large files. With an API key or an
OAuth credentials file the Drive API is used instead, which also reaches
private files, shared drives and whole folders.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := newWebJob("gdrive", args[0], outputPath)
			if apiKey != "" || credentialsFile != "" {
				job.JobType = "gdriveapi"
				if apiKey != "" {
					job.Metadata["apiKey"] = apiKey
				}
				if credentialsFile != "" {
					job.Metadata["credentialsFile"] = credentialsFile
				}
			}
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path (directory for folder links)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Google Drive API key for public files and folders")
	cmd.Flags().StringVar(&credentialsFile, "creds", "", "OAuth credentials JSON file for private files")
	return cmd
}
