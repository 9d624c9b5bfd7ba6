package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newS3Cmd() *cobra.Command {
	var outputPath string
	var profile string

	cmd := &cobra.Command{
		Use:   "s3 [s3://BUCKET/KEY]",
		Short: "Download objects or prefixes from AWS S3",
		Long: `Download a single object or a whole prefix from AWS S3.

Credentials come from the standard AWS chain (environment, shared config,
instance role). A key ending in / is treated as a folder and every object
under it is downloaded through the worker pool.

Examples:
  kumo s3 s3://mybucket/path/to/file.zip
  kumo s3 s3://mybucket/path/to/folder/
  kumo s3 mybucket/file.zip --profile work`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			url := args[0]
			if !strings.HasPrefix(url, "s3://") {
				url = "s3://" + url
			}
			job := newWebJob("s3", url, outputPath)
			job.Metadata["profile"] = profile
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path")
	cmd.Flags().StringVar(&profile, "profile", "default", "AWS profile to use")
	return cmd
}
