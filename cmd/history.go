package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kumodl/kumo/internal/history"
	"github.com/kumodl/kumo/internal/output"
	"github.com/kumodl/kumo/internal/utils"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var failedOnly bool
	var pruneAge time.Duration

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past downloads",
		Long: `Show past downloads, newest first.

Every finished job is recorded with its outcome, so a failed run can be
found again later. --prune removes entries older than the given age
instead of listing.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			store, err := history.Open(history.DefaultPath())
			if err != nil {
				output.PrintError(fmt.Sprintf("Could not open history: %v", err))
				os.Exit(1)
			}
			defer store.Close()

			if pruneAge > 0 {
				removed, err := store.Prune(pruneAge)
				if err != nil {
					output.PrintError(fmt.Sprintf("Prune failed: %v", err))
					os.Exit(1)
				}
				output.PrintSuccess(fmt.Sprintf("Removed %d entries older than %s", removed, pruneAge))
				return
			}

			entries, err := store.List(limit, failedOnly)
			if err != nil {
				output.PrintError(fmt.Sprintf("Could not read history: %v", err))
				os.Exit(1)
			}
			if len(entries) == 0 {
				output.PrintInfo("No downloads recorded yet")
				return
			}
			for _, entry := range entries {
				printHistoryEntry(entry)
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Show only failed downloads")
	cmd.Flags().DurationVar(&pruneAge, "prune", 0, "Remove entries older than this age (eg. 720h)")
	return cmd
}

func printHistoryEntry(entry history.Entry) {
	when := entry.FinishedAt.Local().Format("2006-01-02 15:04")
	target := entry.OutputPath
	if target == "" {
		target = entry.URL
	}
	if entry.Status == history.StatusComplete {
		line := fmt.Sprintf("%s  %-10s %s", when, entry.JobType, target)
		if entry.Size > 0 {
			line += " " + output.FDetail("("+utils.FormatBytes(uint64(entry.Size))+")")
		}
		output.PrintSuccess(line)
		return
	}
	output.PrintError(fmt.Sprintf("%s  %-10s %s", when, entry.JobType, target))
	if entry.Error != "" {
		output.PrintDetail("    " + entry.Error)
	}
}
