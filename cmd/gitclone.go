package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/utils"
)

func newGitCloneCmd() *cobra.Command {
	var outputPath string
	var depth int
	var token string
	var sshKey string

	cmd := &cobra.Command{
		Use:   "git-clone [REPO_URL]",
		Short: "Clone a Git repository",
		Long: `Clone a Git repository from GitHub, GitLab or Bitbucket.

Supported URL formats:
  github.com/owner/repo
  https://gitlab.com/owner/repo.git
  git@github.com:owner/repo.git

Authentication falls back to the GIT_TOKEN and GIT_SSH environment
variables when the flags are not set.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			job := utils.KumoJob{
				JobType:          "gitclone",
				URL:              args[0],
				OutputPath:       outputPath,
				ProgressType:     "stream",
				HTTPClientConfig: globalHTTPConfig,
				Metadata:         make(map[string]any),
			}
			if depth > 0 {
				job.Metadata["depth"] = depth
			}
			if token == "" {
				token = os.Getenv("GIT_TOKEN")
			}
			if sshKey == "" {
				sshKey = os.Getenv("GIT_SSH")
			}
			if token != "" {
				job.Metadata["token"] = token
			}
			if sshKey != "" {
				job.Metadata["sshKey"] = sshKey
			}
			runJobs([]utils.KumoJob{job})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output directory path")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "Clone depth (0 for full history)")
	cmd.Flags().StringVar(&token, "token", "", "Access token for private HTTPS clones")
	cmd.Flags().StringVar(&sshKey, "ssh", "", "SSH private key path for git@ clones")
	return cmd
}
