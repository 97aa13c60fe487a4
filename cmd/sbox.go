package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/PolarWolf314/sbox/internal/configs"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
	logger "github.com/PolarWolf314/sbox/internal/logging"
	"github.com/PolarWolf314/sbox/internal/ui"
	"github.com/PolarWolf314/sbox/internal/utils"
	"github.com/PolarWolf314/sbox/internal/workflows"
)

// ErrReported marks errors whose message was already shown to the user.
var ErrReported = errors.New("error reported")

var (
	verbose    bool
	debug      bool
	userFlag   string
	configFlag string
	envFile    string
	Logger     logger.Logger
)

// Init registers the global flags and every command group on root.
func Init(root *cobra.Command) {
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	root.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "username to act as (overrides config and SBOX_USERNAME)")
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.toml")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		Logger = logger.Logger{
			Verbose: verbose,
			Debug:   debug,
		}
		if configFlag != "" {
			configs.SBoxSettings.ConfigPath = configFlag
		}
		Logger.Debugf("Running %s with verbose=%t, debug=%t", cmd.CommandPath(), verbose, debug)
	}

	root.AddCommand(ConfigCmd)
	root.AddCommand(UserCmd)
	root.AddCommand(BoxCmd)
	root.AddCommand(logCmd)
	root.AddCommand(doctorCmd)
}

// ResetGlobalState resets flag variables between tests.
func ResetGlobalState(root *cobra.Command) {
	verbose = false
	debug = false
	userFlag = ""
	configFlag = ""
	envFile = ".env"
	resetCommandFlags(root)
}

func resetCommandFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(flag *pflag.Flag) {
		if sv, ok := flag.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = flag.Value.Set(flag.DefValue)
		}
		flag.Changed = false
	})
	for _, sub := range c.Commands() {
		resetCommandFlags(sub)
	}
}

// connection builds the workflow connection from the global flags. Password
// prompts pause the spinner while reading.
func connection(s *spinner.Spinner) workflows.Connection {
	return workflows.Connection{
		EnvFile:  envFile,
		Username: userFlag,
		Logger:   Logger,
		Prompt: func(label string) (string, error) {
			if s != nil && s.Active() {
				s.Stop()
				defer s.Start()
			}
			password, err := utils.ReadPassword("Enter " + label + ": ")
			if err != nil {
				return "", err
			}
			return string(password), nil
		},
	}
}

// startSpinner creates and starts a spinner with the given message when not
// in verbose or debug mode. The returned cleanup stops it and prints
// FinalMSG, which does not need a trailing newline.
func startSpinner(message string) (*spinner.Spinner, func()) {
	Logger.Debugf("Starting spinner with message: %s", message)
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("Running in verbose or debug mode: %s", message)
	}

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stderr)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			s.FinalMSG = ""
		}

		if s.Active() {
			s.Stop()
		}

		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// report shows err as the spinner's final message and marks it reported.
func report(s *spinner.Spinner, action string, err error) error {
	Logger.Debugf("%s failed: %v", action, err)
	s.FinalMSG = formatError(action, err)
	return fmt.Errorf("%w: %v", ErrReported, err)
}

// formatError renders err with a hint when the error type has one.
func formatError(action string, err error) string {
	msg := ui.Error.Sprint("✗") + " " + action + ": " + err.Error()

	hint := func(text string) string {
		return msg + "\n" + ui.Info.Sprint("→") + " " + text
	}

	switch {
	case errors.Is(err, kerrors.ErrPasswordRequired):
		return hint("Set " + ui.Code.Sprint(configs.EnvPassword) + " and " + ui.Code.Sprint(configs.EnvE2EPassword) + " or run from a terminal")
	case errors.Is(err, kerrors.ErrUnauthorized):
		return hint("Check your account password, or create the account with " + ui.Code.Sprint("sbox user signup"))
	case errors.Is(err, kerrors.ErrCredential):
		return hint("Check your encryption password")
	case errors.Is(err, kerrors.ErrInvalidUsername):
		return hint("Set " + ui.Flag.Sprint("--user") + " or [user] username in " + ui.Path.Sprint(configs.SBoxSettings.ConfigPath))
	case errors.Is(err, kerrors.ErrInvalidConfig):
		return hint("Run " + ui.Code.Sprint("sbox doctor") + " or " + ui.Code.Sprint("sbox config init --force"))
	case errors.Is(err, kerrors.ErrConfigExists):
		return hint("Use " + ui.Flag.Sprint("--force") + " to overwrite it")
	case errors.Is(err, kerrors.ErrUsernameTaken):
		return hint("Pick another username with " + ui.Flag.Sprint("--user"))
	case errors.Is(err, kerrors.ErrSBoxNotFound):
		return hint("Run " + ui.Code.Sprint("sbox box list") + " to see the SBoxes you can use")
	case errors.Is(err, kerrors.ErrUserNotFound):
		return hint("Run " + ui.Code.Sprint("sbox user search <username>") + " to check the exact name")
	case errors.Is(err, kerrors.ErrNotOwner):
		return hint("Ask the owner, or have them revoke your access if you want to leave")
	case errors.Is(err, kerrors.ErrKeyNotFound):
		return hint("Your access was revoked or never finished; ask the owner to grant it again")
	case errors.Is(err, kerrors.ErrKeyConflict):
		return hint("Ask the owner to revoke and grant your access again")
	case errors.Is(err, kerrors.ErrIntegrity):
		return hint("A record or blob was modified in storage; nothing was returned")
	case errors.Is(err, kerrors.ErrNoFilesFound):
		return hint("Check the paths or quote glob patterns such as " + ui.Code.Sprint(`"docs/**/*.pdf"`))
	default:
		return msg
	}
}

// marshalIndent renders v as indented JSON for output. Characters such as
// '<' and '&' are kept as written.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
