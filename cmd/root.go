package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/output"
	"github.com/kumodl/kumo/internal/scheduler"
	"github.com/kumodl/kumo/internal/utils"
)

// KumoVersion is stamped by goreleaser at build time.
var KumoVersion = "dev"

var (
	workers      int
	connections  int
	timeout      time.Duration
	kaTimeout    time.Duration
	userAgent    string
	proxyURL     string
	proxyUser    string
	proxyPass    string
	headers      []string
	limitRate    string
	useHTTP2     bool
	expectedHash string
	hashAlgo     string
	chunkSizeRaw string
	writeResume  bool
	debug        bool
	fileLog      bool

	// Built once in PersistentPreRunE, shared by every subcommand.
	globalHTTPConfig utils.HTTPClientConfig
	chunkSize        int64
)

var rootCmd = &cobra.Command{
	Use:     "kumo",
	Short:   "Kumo is a fast parallel downloader for cloud file-sharing services",
	Version: KumoVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if connections < 1 || connections > 64 {
			return fmt.Errorf("connections must be between 1 and 64")
		}
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// Credentials may ride inside the proxy URL itself.
		if parsed, err := u.Parse(proxyURL); err == nil && parsed.User != nil {
			if proxyUser == "" {
				proxyUser = parsed.User.Username()
				if password, set := parsed.User.Password(); set {
					proxyPass = password
				}
			}
			parsed.User = nil
			proxyURL = parsed.String()
		}
		var rateBytes int64
		if limitRate != "" {
			parsed, err := utils.ParseSize(limitRate)
			if err != nil {
				return fmt.Errorf("invalid limit-rate value: %w", err)
			}
			rateBytes = parsed
		}
		if chunkSizeRaw != "" {
			parsed, err := utils.ParseSize(chunkSizeRaw)
			if err != nil {
				return fmt.Errorf("invalid chunk-size value: %w", err)
			}
			chunkSize = parsed
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			Timeout:       timeout,
			KATimeout:     kaTimeout,
			ProxyURL:      proxyURL,
			ProxyUsername: proxyUser,
			ProxyPassword: proxyPass,
			UserAgent:     userAgent,
			Headers:       utils.ParseHeaderArgs(headers),
			RateLimit:     rateBytes,
			EnableHTTP2:   useHTTP2,
		}
		return nil
	},
}

// newWebJob assembles a job carrying the shared flag set. Commands that
// need more stash it in Metadata before handing the job to the scheduler.
func newWebJob(jobType, url, outputPath string) utils.KumoJob {
	return utils.KumoJob{
		JobType:          jobType,
		URL:              url,
		OutputPath:       outputPath,
		Connections:      connections,
		ChunkSize:        chunkSize,
		ExpectedHash:     expectedHash,
		HashAlgo:         hashAlgo,
		WriteResume:      writeResume,
		ProgressType:     "progress",
		HTTPClientConfig: globalHTTPConfig,
		Metadata:         make(map[string]any),
	}
}

func runJobs(jobs []utils.KumoJob) {
	if err := scheduler.Run(jobs, workers, fileLog); err != nil {
		fmt.Println()
		output.PrintError(err.Error())
		os.Exit(1)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 2, "Number of jobs to run in parallel")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", 8, "Connections per chunked download (1-64)")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for the HTTP client")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "Custom user agent ('randomize' picks a real one)")
	rootCmd.PersistentFlags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (eg. proxy.example.com:8080)")
	rootCmd.PersistentFlags().StringVar(&proxyUser, "proxy-user", "", "Proxy username (when not part of the proxy URL)")
	rootCmd.PersistentFlags().StringVar(&proxyPass, "proxy-pass", "", "Proxy password (when not part of the proxy URL)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom header as 'Key: Value' (repeatable)")
	rootCmd.PersistentFlags().StringVar(&limitRate, "limit-rate", "", "Per-connection rate limit in bytes/sec (eg. 500K, 2M)")
	rootCmd.PersistentFlags().BoolVar(&useHTTP2, "http2", false, "Enable HTTP/2 on the transport")
	rootCmd.PersistentFlags().StringVar(&expectedHash, "expected-hash", "", "Expected artifact hash in hex")
	rootCmd.PersistentFlags().StringVar(&hashAlgo, "hash-algo", "", "Hash algorithm for --expected-hash (md5, sha1, sha256, sha512)")
	rootCmd.PersistentFlags().StringVar(&chunkSizeRaw, "chunk-size", "", "Chunk size for ranged downloads (eg. 2M)")
	rootCmd.PersistentFlags().BoolVar(&writeResume, "resume", false, "Write resume sidecars during chunked downloads")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&fileLog, "log-file", false, "Write logs to "+utils.LogFile+" during the run")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newDropboxCmd())
	rootCmd.AddCommand(newGDriveCmd())
	rootCmd.AddCommand(newWeTransferCmd())
	rootCmd.AddCommand(newS3Cmd())
	rootCmd.AddCommand(newGitCloneCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
}
