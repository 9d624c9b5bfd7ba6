package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newWeTransferCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "wetransfer [URL]",
		Short: "Download a transfer from a WeTransfer link",
		Long: `Download a transfer from a WeTransfer share link.

Both wetransfer.com/downloads/... links and short we.tl/... links work;
the direct download URL is negotiated with the WeTransfer API first.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := newWebJob("wetransfer", args[0], outputPath)
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}
