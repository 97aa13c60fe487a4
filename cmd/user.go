package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	signupInfo  []string
	deleteForce bool

	// UserCmd groups account commands.
	UserCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage your sbox account",
		Long: `Create, look up and delete accounts.

An account has two passwords: the account password logs in to the backend,
the encryption password protects your identity key. Only the encryption
password can decrypt SBox contents, and it never leaves this machine.`,
	}
)

func init() {
	userSignupCmd.Flags().StringSliceVar(&signupInfo, "info", nil, "profile data as key=value (repeatable)")
	userDeleteCmd.Flags().BoolVar(&deleteForce, "yes", false, "confirm account deletion")

	UserCmd.AddCommand(userSignupCmd)
	UserCmd.AddCommand(userSearchCmd)
	UserCmd.AddCommand(userDeleteCmd)
}

var userSignupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and publish its public key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting user signup command")
		spinner, cleanup := startSpinner("Creating account...")
		defer cleanup()

		info, err := parseInfo(signupInfo)
		if err != nil {
			return report(spinner, "Invalid --info", err)
		}

		result, err := workflows.SignUp(context.Background(), workflows.SignUpOptions{
			Connection: connection(spinner),
			Info:       info,
		})
		if err != nil {
			return report(spinner, "Failed to create account", err)
		}

		spinner.FinalMSG = ui.Success.Sprint("✓") + " Created account " + ui.Highlight.Sprint(result.Username) + " " + ui.ID.Sprint(result.UserID) + "\n" +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sbox box create <name>") + " to create your first SBox"
		return nil
	},
}

var userSearchCmd = &cobra.Command{
	Use:   "search <username>",
	Short: "Look up an account by exact username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting user search command")
		spinner, cleanup := startSpinner("Searching...")
		defer cleanup()

		result, err := workflows.SearchUser(context.Background(), connection(spinner), args[0])
		if err != nil {
			return report(spinner, "Failed to search users", err)
		}
		if !result.Found {
			spinner.FinalMSG = ui.Warning.Sprint("⚠") + " No account named " + ui.Highlight.Sprint(result.Username)
			return nil
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " " + ui.Highlight.Sprint(result.Username) + " " + ui.ID.Sprint(result.UserID)
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete your account",
	Long: `Deletes your account. SBoxes you own are deleted with all their contents;
SBoxes shared with you are left. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting user delete command")
		spinner, cleanup := startSpinner("Deleting account...")
		defer cleanup()

		if !deleteForce {
			spinner.FinalMSG = ui.Warning.Sprint("⚠") + " This deletes every SBox you own\n" +
				ui.Info.Sprint("→") + " Re-run with " + ui.Flag.Sprint("--yes") + " to confirm"
			return nil
		}

		result, err := workflows.DeleteAccount(context.Background(), connection(spinner))
		if err != nil {
			return report(spinner, "Failed to delete account", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Deleted account " + ui.Highlight.Sprint(result.Username)
		return nil
	},
}

func parseInfo(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	info := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		info[key] = value
	}
	return info, nil
}
