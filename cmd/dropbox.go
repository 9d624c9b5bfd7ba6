package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newDropboxCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "dropbox [URL]",
		Short: "Download a file from a Dropbox share link",
		Long: `Download a file from a Dropbox share link.

The link is rewritten for direct delivery (dl=1), so no browser
interaction is needed. Folder links arrive as a single zip archive.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := newWebJob("dropbox", args[0], outputPath)
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}
