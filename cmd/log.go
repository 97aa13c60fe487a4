package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/audit"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	logLimit     int
	logReverse   bool
	logUser      string
	logBox       string
	logOperation string
	logSince     string
	logUntil     string
	logJSON      bool
)

func init() {
	logCmd.Flags().IntVarP(&logLimit, "number", "n", 0, "limit number of entries shown")
	logCmd.Flags().BoolVar(&logReverse, "reverse", false, "show most recent entries first")
	logCmd.Flags().StringVar(&logUser, "by", "", "filter by username")
	logCmd.Flags().StringVar(&logBox, "box", "", "filter by SBox id or name")
	logCmd.Flags().StringVar(&logOperation, "operation", "", "filter by operation type (comma-separated)")
	logCmd.Flags().StringVar(&logSince, "since", "", "show entries after date (YYYY-MM-DD)")
	logCmd.Flags().StringVar(&logUntil, "until", "", "show entries before date (YYYY-MM-DD)")
	logCmd.Flags().BoolVar(&logJSON, "json", false, "output as JSON array")
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View the local audit log",
	Long: `Displays the operations run from this machine.

The log is local and best-effort: it records what this machine did, not
what other members did to shared SBoxes.

Examples:
  sbox log                          # View full log
  sbox log -n 10                    # Last 10 entries
  sbox log --reverse                # Most recent first
  sbox log --box team               # Filter by SBox
  sbox log --operation grant,revoke # Filter by operation
  sbox log --since 2026-01-01       # Filter by date
  sbox log --json                   # JSON output`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting log command")
		spinner, cleanup := startSpinner("Loading audit log...")
		defer cleanup()

		result, err := workflows.Log(context.Background(), workflows.LogOptions{
			Limit:      logLimit,
			Reverse:    logReverse,
			User:       logUser,
			Box:        logBox,
			Operations: logOperation,
			Since:      logSince,
			Until:      logUntil,
		})
		if err != nil {
			if errors.Is(err, kerrors.ErrInvalidDateFormat) {
				spinner.FinalMSG = ui.Error.Sprint("✗") + " " + err.Error()
				return fmt.Errorf("%w: %v", ErrReported, err)
			}
			return report(spinner, "Failed to read audit log", err)
		}

		Logger.Debugf("Parsed %d entries from %s", result.TotalEntriesBeforeFilter, audit.LogPath())
		Logger.Debugf("After filtering: %d entries", len(result.Entries))

		if len(result.Entries) == 0 {
			if result.TotalEntriesBeforeFilter == 0 {
				spinner.FinalMSG = "No audit log entries found."
			} else {
				spinner.FinalMSG = "No audit log entries found matching the filters."
			}
			return nil
		}

		if logJSON {
			data, err := marshalIndent(result.Entries)
			if err != nil {
				return fmt.Errorf("failed to marshal entries to JSON: %w", err)
			}
			spinner.FinalMSG = string(data)
			return nil
		}

		spinner.FinalMSG = formatLogEntries(result.Entries)
		return nil
	},
}

func formatLogEntries(entries []audit.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%-19s  %-20s  %-14s  %s\n", workflows.FormatDateTime(e), e.User, e.Operation, workflows.FormatDetails(e))
	}
	return b.String()
}
