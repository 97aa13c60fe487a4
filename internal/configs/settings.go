package configs

import (
	"log"
	"os"
	"path/filepath"
)

// Settings holds the filesystem locations sbox uses on this machine.
type Settings struct {
	ConfigPath string
	DataDir    string
	AuditPath  string
}

// SBoxSettings is resolved once at startup from the user config and data
// directories. Tests and the --config flag may replace ConfigPath.
var SBoxSettings *Settings

func init() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("error getting config directory: %s", err)
	}

	SBoxSettings = &Settings{
		ConfigPath: filepath.Join(configDir, "sbox", "config.toml"),
	}
	SBoxSettings.SetDataDir(defaultDataDir())
}

// SetDataDir points the data directory (and the audit log inside it) at dir.
func (s *Settings) SetDataDir(dir string) {
	s.DataDir = dir
	s.AuditPath = filepath.Join(dir, "audit.jsonl")
}

func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("error getting home directory: %s", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "sbox")
}
