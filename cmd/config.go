package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/configs"
	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

var (
	configInitDriver   string
	configInitDSN      string
	configInitBlobPath string
	configInitForce    bool
	configShowJSON     bool

	// ConfigCmd is the top-level config command.
	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage sbox configuration",
		Long: `Provides commands for writing and inspecting the sbox configuration.

Settings are read from config.toml, then from a .env file, then from SBOX_*
environment variables, then from flags. Passwords are only ever read from
SBOX_PASSWORD and SBOX_E2E_PASSWORD or prompted for.

Examples:
  # Write a config for a local SQLite backend
  sbox config init --user alice

  # Point at a shared MySQL backend
  sbox config init --driver mysql --dsn 'user:pass@tcp(db:3306)/sbox' --force

  # Show the effective configuration
  sbox config show`,
	}
)

func init() {
	configInitCmd.Flags().StringVar(&configInitDriver, "driver", "", "backend driver (sqlite or mysql)")
	configInitCmd.Flags().StringVar(&configInitDSN, "dsn", "", "backend data source name")
	configInitCmd.Flags().StringVar(&configInitBlobPath, "blob-path", "", "directory of the blob store")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing config file")
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "output in JSON format")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config init command")
		spinner, cleanup := startSpinner("Writing configuration...")
		defer cleanup()

		result, err := workflows.ConfigInit(context.Background(), workflows.ConfigInitOptions{
			Username: userFlag,
			Driver:   configInitDriver,
			DSN:      configInitDSN,
			BlobPath: configInitBlobPath,
			Force:    configInitForce,
		})
		if err != nil {
			return report(spinner, "Failed to write configuration", err)
		}

		verb := "Created"
		if result.Overwritten {
			verb = "Overwrote"
		}
		spinner.FinalMSG = ui.Success.Sprint("✓") + " " + verb + " " + ui.Path.Sprint(result.Path) + "\n" +
			ui.Fields(
				"Username", ui.Highlight.Sprint(result.Config.User.Username),
				"Backend", result.Config.Backend.Driver+" "+ui.Path.Sprint(result.Config.Backend.DSN),
				"Blobs", ui.Path.Sprint(result.Config.Backend.BlobPath),
			) +
			ui.Info.Sprint("→") + " Run " + ui.Code.Sprint("sbox user signup") + " to create your account"
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting config show command")
		spinner, cleanup := startSpinner("Loading configuration...")
		defer cleanup()

		result, err := workflows.ConfigShow(context.Background(), connection(spinner))
		if err != nil {
			return report(spinner, "Failed to load configuration", err)
		}

		if configShowJSON {
			data, err := marshalIndent(result.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal config to JSON: %w", err)
			}
			spinner.FinalMSG = string(data)
			return nil
		}

		source := ui.Path.Sprint(result.Path)
		if !result.FileExists {
			source += " " + ui.Muted.Sprint("not found, using defaults")
		}
		c := result.Config
		spinner.FinalMSG = ui.Info.Sprint("Configuration") + " " + source + "\n\n" +
			ui.Fields(
				"Username", ui.Highlight.Sprint(c.User.Username),
				"Driver", c.Backend.Driver,
				"DSN", c.Backend.DSN,
				"Blob path", ui.Path.Sprint(c.Backend.BlobPath),
				"Context info", c.Crypto.ContextInfo,
				"KDF", fmt.Sprintf("argon2id t=%d m=%dKiB p=%d", c.Crypto.KDFTime, c.Crypto.KDFMemoryKiB, c.Crypto.KDFThreads),
				"Page size", strconv.Itoa(c.Sync.PageSize),
				"Max pages", strconv.Itoa(c.Sync.MaxPages),
				"Chunk size", strconv.Itoa(c.Files.ChunkSize),
				configs.EnvPassword, fromEnv(result.PasswordFromEnv),
				configs.EnvE2EPassword, fromEnv(result.E2EPasswordFromEnv),
			)
		return nil
	},
}

func fromEnv(set bool) string {
	if set {
		return ui.Success.Sprint("set")
	}
	return ui.Muted.Sprint("unset, will prompt")
}
