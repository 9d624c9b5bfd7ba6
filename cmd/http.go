package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "http [URL]",
		Short: "Download a file over HTTP/HTTPS",
		Long: `Download a file from an HTTP/HTTPS URL.

The server is probed first; when it supports ranged requests the file is
pulled over multiple connections, otherwise a single streaming GET is used.
Share links from supported services (Dropbox, Google Drive, WeTransfer) are
recognized and resolved to their direct-download form automatically.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := newWebJob("http", args[0], outputPath)
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}
