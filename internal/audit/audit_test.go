package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PolarWolf314/sbox/internal/configs"
)

// useTempSettings points the audit log at a fresh directory for one test.
func useTempSettings(t *testing.T) string {
	t.Helper()
	original := configs.SBoxSettings
	settings := &configs.Settings{}
	settings.SetDataDir(filepath.Join(t.TempDir(), "sbox"))
	configs.SBoxSettings = settings
	t.Cleanup(func() { configs.SBoxSettings = original })
	return settings.AuditPath
}

func TestLog_CreatesFileAndDirectory(t *testing.T) {
	logPath := useTempSettings(t)

	Log(Entry{User: "alice", UserID: "u-1", Operation: "create", SBox: "sb-1", SBoxName: "notes"})

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("Audit log file was not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}
}

func TestLog_AppendsEntries(t *testing.T) {
	useTempSettings(t)

	Log(Entry{User: "alice", Operation: "create"})
	Log(Entry{User: "alice", Operation: "grant", TargetUser: "bob"})
	Log(Entry{User: "bob", Operation: "retrieve", Count: 3})

	entries, err := ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}

	ops := []string{"create", "grant", "retrieve"}
	for i, op := range ops {
		if entries[i].Operation != op {
			t.Errorf("Entry %d: expected op %q, got %q", i, op, entries[i].Operation)
		}
	}
	if entries[1].TargetUser != "bob" {
		t.Errorf("Expected target_user bob, got %q", entries[1].TargetUser)
	}
	if entries[2].Count != 3 {
		t.Errorf("Expected count 3, got %d", entries[2].Count)
	}
}

func TestLog_TimestampFormat(t *testing.T) {
	useTempSettings(t)

	before := time.Now().UTC().Add(-time.Second)
	Log(LogWithUser("insert", "alice", "u-1"))

	entries, err := ReadEntries()
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadEntries: %v (%d entries)", err, len(entries))
	}

	ts, err := entries[0].Time()
	if err != nil {
		t.Fatalf("Timestamp %q does not parse: %v", entries[0].Timestamp, err)
	}
	if ts.Before(before) {
		t.Errorf("Timestamp %v is before %v", ts, before)
	}
	if !strings.HasSuffix(entries[0].Timestamp, "Z") {
		t.Errorf("Timestamp should be UTC, got %q", entries[0].Timestamp)
	}
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	logPath := useTempSettings(t)

	Log(Entry{User: "alice", UserID: "u-1", Operation: "signup"})

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &raw); err != nil {
		t.Fatalf("Entry is not valid JSON: %v", err)
	}
	for _, field := range []string{"sbox", "target_user", "document_id", "file_ids", "files", "count"} {
		if _, ok := raw[field]; ok {
			t.Errorf("Expected %q to be omitted", field)
		}
	}
	for _, field := range []string{"ts", "user", "uuid", "op"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("Expected %q to be present", field)
		}
	}
}

func TestLog_NoSettings(t *testing.T) {
	original := configs.SBoxSettings
	configs.SBoxSettings = nil
	defer func() { configs.SBoxSettings = original }()

	// Must not panic.
	Log(Entry{Operation: "create"})

	if LogPath() != "" {
		t.Errorf("Expected empty log path, got %q", LogPath())
	}
	entries, err := ReadEntries()
	if err != nil || entries != nil {
		t.Errorf("Expected no entries and no error, got %v, %v", entries, err)
	}
}

func TestReadEntries_MissingLog(t *testing.T) {
	useTempSettings(t)

	entries, err := ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}

func TestParseEntries_SkipsMalformedLines(t *testing.T) {
	data := []byte(`{"ts":"2024-01-01T00:00:00.000000Z","user":"alice","op":"create"}
not json
{"ts":"2024-01-02T00:00:00.000000Z","user":"bob","op":"grant","target_user":"carol"}

{"ts":"2024-01-03T00:00:00.000000Z","user":"bo`)

	entries, err := ParseEntries(data)
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[1].TargetUser != "carol" {
		t.Errorf("Expected target_user carol, got %q", entries[1].TargetUser)
	}
}

func TestParseEntries_EmptyData(t *testing.T) {
	entries, err := ParseEntries(nil)
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
}

func TestEntryTime_RFC3339(t *testing.T) {
	e := Entry{Timestamp: "2024-05-01T10:00:00Z"}
	ts, err := e.Time()
	if err != nil {
		t.Fatalf("Time failed: %v", err)
	}
	if !ts.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected time %v", ts)
	}
}
