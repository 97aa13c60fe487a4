package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/utils"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	insertFile           string
	insertAdditionalData string
	retrieveSince        string
	retrieveUnsorted     bool
)

func init() {
	boxInsertCmd.Flags().StringVarP(&insertFile, "file", "f", "", "read the document from a file instead of stdin")
	boxInsertCmd.Flags().StringVar(&insertAdditionalData, "ad", "", "additional data (JSON) stored in clear and bound to the document")
	boxRetrieveCmd.Flags().StringVar(&retrieveSince, "since", "", "only records created at or after this time (YYYY-MM-DD or RFC 3339)")
	boxRetrieveCmd.Flags().BoolVar(&retrieveUnsorted, "unsorted", false, "keep backend order instead of sorting by timestamp")

	BoxCmd.AddCommand(boxInsertCmd)
	BoxCmd.AddCommand(boxRetrieveCmd)
	BoxCmd.AddCommand(boxRemoveCmd)
}

var boxInsertCmd = &cobra.Command{
	Use:   "insert <sbox>",
	Short: "Encrypt a JSON document into an SBox",
	Long: `Encrypts a JSON document read from stdin (or --file) into an SBox.

Examples:
  echo '{"host":"db1","password":"hunter2"}' | sbox box insert team
  sbox box insert team -f creds.json --ad '{"env":"prod"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box insert command")

		var document []byte
		var err error
		if insertFile != "" {
			document, err = os.ReadFile(insertFile)
		} else {
			document, err = utils.ReadStdin()
		}

		spinner, cleanup := startSpinner("Encrypting document...")
		defer cleanup()
		if err != nil {
			return report(spinner, "Failed to read document", err)
		}

		result, err := workflows.Insert(context.Background(), connection(spinner), args[0], document, []byte(insertAdditionalData))
		if err != nil {
			return report(spinner, "Failed to insert document", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Inserted document " + ui.ID.Sprint(result.DocumentID)
		return nil
	},
}

type retrievedDocumentJSON struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Writer         string          `json:"writer"`
	WriterID       string          `json:"writer_id"`
	Data           json.RawMessage `json:"data"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
}

var boxRetrieveCmd = &cobra.Command{
	Use:   "retrieve <sbox>",
	Short: "Decrypt the documents of an SBox as a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box retrieve command")
		spinner, cleanup := startSpinner("Decrypting documents...")
		defer cleanup()

		since, err := parseSince(retrieveSince)
		if err != nil {
			return report(spinner, "Invalid --since", err)
		}

		docs, err := workflows.Retrieve(context.Background(), workflows.RetrieveOptions{
			Connection: connection(spinner),
			Box:        args[0],
			Since:      since,
			Unsorted:   retrieveUnsorted,
		})
		if err != nil {
			return report(spinner, "Failed to retrieve documents", err)
		}
		Logger.Infof("Retrieved %d documents", len(docs))

		out := make([]retrievedDocumentJSON, len(docs))
		for i, d := range docs {
			out[i] = retrievedDocumentJSON{
				ID:             d.ID,
				Timestamp:      d.Timestamp,
				Writer:         d.Writer,
				WriterID:       d.WriterID,
				Data:           d.Data,
				AdditionalData: d.AdditionalData,
			}
		}
		data, err := marshalIndent(out)
		if err != nil {
			return fmt.Errorf("failed to marshal documents to JSON: %w", err)
		}
		spinner.FinalMSG = string(data)
		return nil
	},
}

var boxRemoveCmd = &cobra.Command{
	Use:   "remove <sbox> <document-id>",
	Short: "Delete one document from an SBox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting box remove command")
		spinner, cleanup := startSpinner("Removing document...")
		defer cleanup()

		if err := workflows.Remove(context.Background(), connection(spinner), args[0], args[1]); err != nil {
			return report(spinner, "Failed to remove document", err)
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " Removed document " + ui.ID.Sprint(args[1])
		return nil
	},
}

// parseSince accepts a date or an RFC 3339 time. Empty means no bound.
func parseSince(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor RFC 3339", value)
	}
	return t, nil
}
