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
	boxListJSON    bool
	boxDeleteForce bool

	// BoxCmd groups SBox commands.
	BoxCmd = &cobra.Command{
		Use:   "box",
		Short: "Create, share and use SBoxes",
		Long: `An SBox is a shared, end-to-end encrypted container of JSON documents
and files. Its owner can grant and revoke access for other users.

SBoxes are referred to by id or, when unambiguous, by name.

Examples:
  sbox box create team
  sbox box grant team bob
  echo '{"k":"v"}' | sbox box insert team
  sbox box retrieve team --since 2026-01-01
  sbox box insert-file team "docs/**/*.pdf"
  sbox box retrieve-files team -o ./out`,
	}
)

func init() {
	boxListCmd.Flags().BoolVar(&boxListJSON, "json", false, "output in JSON format")
	boxDeleteCmd.Flags().BoolVar(&boxDeleteForce, "yes", false, "confirm deletion")

	BoxCmd.AddCommand(boxCreateCmd)
	BoxCmd.AddCommand(boxListCmd)
	BoxCmd.AddCommand(boxMembersCmd)
	BoxCmd.AddCommand(boxGrantCmd)
	BoxCmd.AddCommand(boxRevokeCmd)
	BoxCmd.AddCommand(boxDeleteCmd)
}

var boxCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an SBox you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box create command")
		spinner, cleanup := startSpinner("Creating SBox...")
		defer cleanup()

		box, err := workflows.CreateBox(context.Background(), connection(spinner), args[0])
		if err != nil {
			return report(spinner, "Failed to create SBox", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Created " + ui.Highlight.Sprint(box.Name) + " " + ui.ID.Sprint(box.ID) + "\n" +
			ui.Info.Sprint("→") + " Share it with " + ui.Code.Sprint("sbox box grant "+box.Name+" <username>")
		return nil
	},
}

var boxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the SBoxes you can use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box list command")
		spinner, cleanup := startSpinner("Listing SBoxes...")
		defer cleanup()

		boxes, err := workflows.ListBoxes(context.Background(), connection(spinner))
		if err != nil {
			return report(spinner, "Failed to list SBoxes", err)
		}

		if boxListJSON {
			data, err := marshalIndent(boxes)
			if err != nil {
				return fmt.Errorf("failed to marshal SBoxes to JSON: %w", err)
			}
			spinner.FinalMSG = string(data)
			return nil
		}
		if len(boxes) == 0 {
			spinner.FinalMSG = "No SBoxes yet.\n" +
				ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sbox box create <name>")
			return nil
		}

		var b strings.Builder
		for _, box := range boxes {
			owner := box.Owner
			if box.Owned {
				owner = "you"
			}
			fmt.Fprintf(&b, "%-24s  %s  %s\n", ui.Highlight.Sprint(box.Name), ui.ID.Sprint(box.ID), ui.Muted.Sprint("owner: "+owner))
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

var boxMembersCmd = &cobra.Command{
	Use:   "members <sbox>",
	Short: "List the users with access to an SBox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box members command")
		spinner, cleanup := startSpinner("Loading members...")
		defer cleanup()

		result, err := workflows.Members(context.Background(), connection(spinner), args[0])
		if err != nil {
			return report(spinner, "Failed to list members", err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Members of %s:\n", ui.Highlight.Sprint(result.Box.Name))
		for _, m := range result.Members {
			name := m.Username
			if name == "" {
				name = ui.Muted.Sprint("deleted account")
			}
			line := "  " + name + " " + ui.ID.Sprint(m.ID)
			if m.Owner {
				line += " " + ui.Info.Sprint("owner")
			}
			b.WriteString(line + "\n")
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

var boxGrantCmd = &cobra.Command{
	Use:   "grant <sbox> <username>",
	Short: "Share an SBox with a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box grant command")
		spinner, cleanup := startSpinner("Granting access...")
		defer cleanup()

		result, err := workflows.Grant(context.Background(), connection(spinner), args[0], args[1])
		if err != nil {
			return report(spinner, "Failed to grant access", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " " + ui.Highlight.Sprint(result.TargetUser) + " can now read and write " + ui.Highlight.Sprint(result.Box.Name)
		return nil
	},
}

var boxRevokeCmd = &cobra.Command{
	Use:   "revoke <sbox> <username>",
	Short: "Remove a user's access to an SBox",
	Long: `Removes a user's wrapped key and link. The SBox key is not rotated:
anything the user already retrieved remains readable to them.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box revoke command")
		spinner, cleanup := startSpinner("Revoking access...")
		defer cleanup()

		result, err := workflows.Revoke(context.Background(), connection(spinner), args[0], args[1])
		if err != nil {
			return report(spinner, "Failed to revoke access", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Revoked " + ui.Highlight.Sprint(result.TargetUser) + " from " + ui.Highlight.Sprint(result.Box.Name)
		return nil
	},
}

var boxDeleteCmd = &cobra.Command{
	Use:   "delete <sbox>",
	Short: "Delete an SBox and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box delete command")
		spinner, cleanup := startSpinner("Deleting SBox...")
		defer cleanup()

		if !boxDeleteForce {
			spinner.FinalMSG = ui.Warning.Sprint("⚠") + " This deletes every document and file in " + ui.Highlight.Sprint(args[0]) + "\n" +
				ui.Info.Sprint("→") + " Re-run with " + ui.Flag.Sprint("--yes") + " to confirm"
			return nil
		}

		box, err := workflows.DeleteBox(context.Background(), connection(spinner), args[0])
		if err != nil {
			return report(spinner, "Failed to delete SBox", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Deleted " + ui.Highlight.Sprint(box.Name) + " " + ui.ID.Sprint(box.ID)
		return nil
	},
}
