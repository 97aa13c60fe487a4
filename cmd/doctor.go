package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	doctorJSONOutput bool
	// doctorExitFunc can be overridden for testing.
	doctorExitFunc = os.Exit
)

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSONOutput, "json", false, "output in JSON format")
}

// SetDoctorExitFunc sets the exit function for testing purposes.
func SetDoctorExitFunc(f func(int)) {
	doctorExitFunc = f
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on your sbox setup",
	Long: `Runs a series of health checks and reports issues.

The doctor command checks:
  - Configuration validity
  - Backend and blob store connectivity
  - Login with both passwords
  - Session refresh
  - That the key of every linked SBox can be recovered

Exit codes:
  0 - All checks passed
  1 - Warnings found (non-critical issues)
  2 - Errors found (critical issues)

Use --json for machine-readable output.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	Logger.Infof("Starting doctor command")

	spinner, cleanup := startSpinner("Running health checks...")
	result, err := workflows.Doctor(context.Background(), connection(spinner))
	if err != nil {
		err = report(spinner, "Failed to run health checks", err)
		cleanup()
		return err
	}

	for _, check := range result.Checks {
		Logger.Debugf("Check %s: status=%s, message=%s", check.Name, check.Status, check.Message)
	}

	if doctorJSONOutput {
		data, err := marshalIndent(result)
		if err != nil {
			cleanup()
			return err
		}
		spinner.FinalMSG = string(data)
	} else {
		spinner.FinalMSG = formatDoctorResults(result)
	}
	cleanup()

	if result.Summary.Errors > 0 {
		doctorExitFunc(2)
	} else if result.Summary.Warnings > 0 {
		doctorExitFunc(1)
	}
	return nil
}

func formatDoctorResults(result *workflows.DoctorResult) string {
	var b strings.Builder

	for _, check := range result.Checks {
		var statusIcon string
		switch check.Status {
		case workflows.CheckPass:
			statusIcon = ui.Success.Sprint("✓")
		case workflows.CheckWarning:
			statusIcon = ui.Warning.Sprint("⚠")
		case workflows.CheckError:
			statusIcon = ui.Error.Sprint("✗")
		}
		fmt.Fprintf(&b, "%s %s: %s\n", statusIcon, check.Name, check.Message)
	}

	fmt.Fprintf(&b, "\nSummary: %d passed", result.Summary.Passed)
	if result.Summary.Warnings > 0 {
		fmt.Fprintf(&b, ", %s", ui.Warning.Sprint(fmt.Sprintf("%d warning(s)", result.Summary.Warnings)))
	}
	if result.Summary.Errors > 0 {
		fmt.Fprintf(&b, ", %s", ui.Error.Sprint(fmt.Sprintf("%d error(s)", result.Summary.Errors)))
	}
	b.WriteString("\n")

	if len(result.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, suggestion := range result.Suggestions {
			fmt.Fprintf(&b, "  %s %s\n", ui.Info.Sprint("→"), suggestion)
		}
	}
	return b.String()
}
