package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/output"
	"github.com/kumodl/kumo/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [OUTPUT_PATH]",
		Short: "Remove leftover temp files and resume sidecars",
		Long: `Remove the temp directory and resume sidecars left behind by an
interrupted run. Without an argument the current directory is cleaned;
with one, the directory holding that output path.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var err error
			if len(args) == 0 {
				err = utils.CleanLocal()
			} else {
				err = utils.CleanFunction(args[0])
				if err == nil {
					if rmErr := os.Remove(args[0] + utils.ResumeSuffix); rmErr != nil && !os.IsNotExist(rmErr) {
						err = rmErr
					}
				}
			}
			if err != nil {
				output.PrintError("Error cleaning up temporary files")
				os.Exit(1)
			}
			output.PrintSuccess("Temporary files cleaned up")
		},
	}
}
