package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/utils"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	insertFileAdditionalData string
	retrieveFilesOutput      string
	retrieveFilesSince       string
	retrieveFilesForce       bool
	retrieveFilesUnsorted    bool
)

func init() {
	boxInsertFileCmd.Flags().StringVar(&insertFileAdditionalData, "ad", "", "additional data (JSON) attached to every file")
	boxRetrieveFilesCmd.Flags().StringVarP(&retrieveFilesOutput, "output", "o", "", "directory to write the files to (lists them when empty)")
	boxRetrieveFilesCmd.Flags().StringVar(&retrieveFilesSince, "since", "", "only files uploaded at or after this time (YYYY-MM-DD or RFC 3339)")
	boxRetrieveFilesCmd.Flags().BoolVar(&retrieveFilesForce, "force", false, "overwrite existing files")
	boxRetrieveFilesCmd.Flags().BoolVar(&retrieveFilesUnsorted, "unsorted", false, "keep backend order instead of sorting by upload time")

	BoxCmd.AddCommand(boxInsertFileCmd)
	BoxCmd.AddCommand(boxRetrieveFilesCmd)
	BoxCmd.AddCommand(boxRemoveFileCmd)
}

var boxInsertFileCmd = &cobra.Command{
	Use:   "insert-file <sbox> <path|glob>...",
	Short: "Encrypt and upload files into an SBox",
	Long: `Encrypts and uploads files into an SBox. Arguments are paths or
doublestar globs; quote globs so the shell does not expand them.

Examples:
  sbox box insert-file team report.pdf
  sbox box insert-file team "docs/**/*.pdf"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box insert-file command")
		spinner, cleanup := startSpinner("Uploading files...")
		defer cleanup()

		inserted, err := workflows.InsertFiles(context.Background(), workflows.InsertFilesOptions{
			Connection:     connection(spinner),
			Box:            args[0],
			Patterns:       args[1:],
			AdditionalData: []byte(insertFileAdditionalData),
		})
		if err != nil {
			reported := report(spinner, "Failed to upload files", err)
			if len(inserted) > 0 {
				paths := make([]string, len(inserted))
				for i, f := range inserted {
					paths[i] = f.Path
				}
				spinner.FinalMSG += "\n" + ui.Warning.Sprint("⚠") + " Already uploaded:" + utils.FormatPaths(paths)
			}
			return reported
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s Uploaded %d file(s)\n", ui.Success.Sprint("✓"), len(inserted))
		for _, f := range inserted {
			fmt.Fprintf(&b, "    - %s %s\n", ui.Path.Sprint(f.Path), ui.ID.Sprint(f.FileID))
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

var boxRetrieveFilesCmd = &cobra.Command{
	Use:   "retrieve-files <sbox>",
	Short: "Download and decrypt the files of an SBox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box retrieve-files command")
		spinner, cleanup := startSpinner("Downloading files...")
		defer cleanup()

		since, err := parseSince(retrieveFilesSince)
		if err != nil {
			return report(spinner, "Invalid --since", err)
		}

		files, err := workflows.RetrieveFiles(context.Background(), workflows.RetrieveFilesOptions{
			RetrieveOptions: workflows.RetrieveOptions{
				Connection: connection(spinner),
				Box:        args[0],
				Since:      since,
				Unsorted:   retrieveFilesUnsorted,
			},
			OutputDir: retrieveFilesOutput,
			Force:     retrieveFilesForce,
		})
		if err != nil {
			return report(spinner, "Failed to retrieve files", err)
		}

		if len(files) == 0 {
			spinner.FinalMSG = "No files in " + ui.Highlight.Sprint(args[0])
			return nil
		}

		var b strings.Builder
		for _, f := range files {
			where := ui.Muted.Sprint(fmt.Sprintf("%d bytes", len(f.Data)))
			if f.Path != "" {
				where = ui.Path.Sprint(f.Path)
			}
			fmt.Fprintf(&b, "%-32s  %s  %s  %s\n", utils.Truncate(f.Name, 32), ui.ID.Sprint(f.ID), f.Uploader, where)
		}
		spinner.FinalMSG = b.String()
		return nil
	},
}

var boxRemoveFileCmd = &cobra.Command{
	Use:   "remove-file <sbox> <file-id>",
	Short: "Delete one file and its blob from an SBox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box remove-file command")
		spinner, cleanup := startSpinner("Removing file...")
		defer cleanup()

		if err := workflows.RemoveFile(context.Background(), connection(spinner), args[0], args[1]); err != nil {
			return report(spinner, "Failed to remove file", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Removed file " + ui.ID.Sprint(args[1])
		return nil
	},
}
