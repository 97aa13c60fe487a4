package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "sbox",
	Short: "sbox - end-to-end encrypted shared boxes",
	Long: `sbox stores JSON documents and files in shared boxes (SBoxes) that are
encrypted on your machine before they reach the backend.

Each SBox has one key, wrapped separately for every member with their
public key. The backend only ever sees ciphertext.

Usage:
  sbox <command> [flags]

Available Commands:
  config     Write and inspect configuration
  user       Sign up, search users, delete your account
  box        Create, share and use SBoxes
  log        View the local audit log
  doctor     Run health checks

Run 'sbox help <command>' for more details on a specific command.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cmd.Init(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cmd.ErrReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
