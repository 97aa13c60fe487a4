package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/PolarWolf314/sbox/internal/configs"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

var (
	rootOnce sync.Once
	root     *cobra.Command
)

func testRoot() *cobra.Command {
	rootOnce.Do(func() {
		root = &cobra.Command{Use: "sbox", SilenceUsage: true, SilenceErrors: true}
		Init(root)
	})
	return root
}

// captureOutput captures stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout, originalStderr := os.Stdout, os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout, os.Stderr = w, w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := fn()

	w.Close()
	os.Stdout, os.Stderr = originalStdout, originalStderr
	return <-done, runErr
}

// setupCLI isolates settings and the environment and returns the flags every
// invocation needs.
func setupCLI(t *testing.T) (dir string, flags []string) {
	t.Helper()
	dir = t.TempDir()

	prev := configs.SBoxSettings
	configs.SBoxSettings = &configs.Settings{ConfigPath: filepath.Join(dir, "config.toml")}
	configs.SBoxSettings.SetDataDir(filepath.Join(dir, "data"))
	t.Cleanup(func() { configs.SBoxSettings = prev })

	for _, env := range []string{configs.EnvDriver, configs.EnvDSN, configs.EnvBlobPath, configs.EnvUsername, configs.EnvPageSize} {
		t.Setenv(env, "")
	}
	t.Setenv(configs.EnvPassword, "account-password")
	t.Setenv(configs.EnvE2EPassword, "encryption-password")

	flags = []string{"--config", configs.SBoxSettings.ConfigPath, "--env-file", filepath.Join(dir, "missing.env")}
	return dir, flags
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	r := testRoot()
	ResetGlobalState(r)
	r.SetArgs(args)
	return captureOutput(r.Execute)
}

// cheapKDF rewrites the config so identity keys derive quickly.
func cheapKDF(t *testing.T) {
	t.Helper()
	path := configs.SBoxSettings.ConfigPath
	config, err := configs.Load(path, configs.SBoxSettings.DataDir, nil)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	config.Crypto.KDFMemoryKiB = 1024
	config.Crypto.KDFThreads = 1
	if err := configs.Save(path, config); err != nil {
		t.Fatalf("saving config: %v", err)
	}
}

func TestCLI_DocumentFlow(t *testing.T) {
	dir, flags := setupCLI(t)
	with := func(args ...string) []string { return append(append([]string{}, args...), flags...) }

	output, err := run(t, with("config", "init", "--user", "alice")...)
	if err != nil {
		t.Fatalf("config init failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Created") {
		t.Errorf("expected creation message, got: %s", output)
	}
	cheapKDF(t)

	output, err = run(t, with("config", "init")...)
	if !errors.Is(err, ErrReported) || !strings.Contains(output, "--force") {
		t.Errorf("expected an existing config to be reported with a hint, got %v: %s", err, output)
	}

	if output, err = run(t, with("user", "signup", "--info", "team=infra")...); err != nil {
		t.Fatalf("signup failed: %v\n%s", err, output)
	}
	if output, err = run(t, with("box", "create", "vault")...); err != nil {
		t.Fatalf("box create failed: %v\n%s", err, output)
	}

	docPath := filepath.Join(dir, "doc.json")
	if err := os.WriteFile(docPath, []byte(`{"secret":"s3cr3t"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if output, err = run(t, with("box", "insert", "vault", "-f", docPath, "--ad", `{"env":"prod"}`)...); err != nil {
		t.Fatalf("insert failed: %v\n%s", err, output)
	}

	output, err = run(t, with("box", "retrieve", "vault")...)
	if err != nil {
		t.Fatalf("retrieve failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, `"secret": "s3cr3t"`) || !strings.Contains(output, `"writer": "alice"`) {
		t.Errorf("expected decrypted document in output, got: %s", output)
	}

	output, err = run(t, with("box", "retrieve", "vault", "--unsorted")...)
	if err != nil || !strings.Contains(output, `"secret": "s3cr3t"`) {
		t.Errorf("expected unsorted retrieve to return the document, got %v: %s", err, output)
	}

	output, err = run(t, with("box", "list")...)
	if err != nil {
		t.Fatalf("list failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "vault") || !strings.Contains(output, "owner: you") {
		t.Errorf("expected vault in list, got: %s", output)
	}

	output, err = run(t, with("log", "--operation", "insert")...)
	if err != nil {
		t.Fatalf("log failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "insert") || strings.Contains(output, "signup") {
		t.Errorf("expected only insert entries, got: %s", output)
	}

	output, err = run(t, with("box", "retrieve", "missing")...)
	if !errors.Is(err, ErrReported) || !strings.Contains(output, "sbox box list") {
		t.Errorf("expected unknown box hint, got %v: %s", err, output)
	}
}

func TestCLI_Doctor(t *testing.T) {
	_, flags := setupCLI(t)
	with := func(args ...string) []string { return append(append([]string{}, args...), flags...) }

	if output, err := run(t, with("config", "init", "--user", "carol")...); err != nil {
		t.Fatalf("config init failed: %v\n%s", err, output)
	}
	cheapKDF(t)

	var code int
	SetDoctorExitFunc(func(c int) { code = c })
	t.Cleanup(func() { SetDoctorExitFunc(os.Exit) })

	output, err := run(t, with("doctor")...)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if code != 2 || !strings.Contains(output, "Login") {
		t.Errorf("expected login failure with exit 2, got %d: %s", code, output)
	}

	if output, err := run(t, with("user", "signup")...); err != nil {
		t.Fatalf("signup failed: %v\n%s", err, output)
	}
	code = 0
	output, err = run(t, with("doctor", "--json")...)
	if err != nil {
		t.Fatalf("doctor failed: %v", err)
	}
	if code != 0 || !strings.Contains(output, `"passed": 5`) {
		t.Errorf("expected a clean report, got %d: %s", code, output)
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		err  error
		hint string
	}{
		{fmt.Errorf("wrap: %w", kerrors.ErrPasswordRequired), configs.EnvE2EPassword},
		{kerrors.ErrUnauthorized, "sbox user signup"},
		{kerrors.ErrSBoxNotFound, "sbox box list"},
		{kerrors.ErrKeyNotFound, "grant it again"},
		{kerrors.ErrIntegrity, "modified in storage"},
	}
	for _, tt := range tests {
		msg := formatError("Action", tt.err)
		if !strings.Contains(msg, tt.err.Error()) || !strings.Contains(msg, tt.hint) {
			t.Errorf("formatError(%v) = %q, want hint %q", tt.err, msg, tt.hint)
		}
	}

	if msg := formatError("Action", errors.New("boom")); strings.Contains(msg, "→") {
		t.Errorf("expected no hint for unknown error, got %q", msg)
	}
}

func TestParseSince(t *testing.T) {
	if got, err := parseSince(""); err != nil || !got.IsZero() {
		t.Errorf("empty: got %v, %v", got, err)
	}
	got, err := parseSince("2026-02-03")
	if err != nil || !got.Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date: got %v, %v", got, err)
	}
	got, err = parseSince("2026-02-03T04:05:06+01:00")
	if err != nil || !got.Equal(time.Date(2026, 2, 3, 3, 5, 6, 0, time.UTC)) {
		t.Errorf("rfc3339: got %v, %v", got, err)
	}
	if _, err := parseSince("last week"); err == nil {
		t.Error("expected an error for free text")
	}
}

func TestParseInfo(t *testing.T) {
	info, err := parseInfo([]string{"team=infra", "note=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if info["team"] != "infra" || info["note"] != "a=b" {
		t.Errorf("unexpected info %v", info)
	}
	if _, err := parseInfo([]string{"novalue"}); err == nil {
		t.Error("expected an error without '='")
	}
}
