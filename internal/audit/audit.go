package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/PolarWolf314/sbox/internal/configs"
)

// TimestampLayout is the layout of Entry.Timestamp.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one line of the audit log.
type Entry struct {
	Timestamp string `json:"ts"`   // UTC, microsecond precision.
	User      string `json:"user"` // Username performing the operation.
	UserID    string `json:"uuid"` // Backend id of that user.
	Operation string `json:"op"`

	SBox       string   `json:"sbox,omitempty"`
	SBoxName   string   `json:"sbox_name,omitempty"`
	TargetUser string   `json:"target_user,omitempty"` // grant/revoke.
	DocumentID string   `json:"document_id,omitempty"` // insert/remove.
	FileIDs    []string `json:"file_ids,omitempty"`    // insert-file/remove-file.
	Files      []string `json:"files,omitempty"`       // Local paths for insert-file.
	Count      int      `json:"count,omitempty"`       // retrieve/retrieve-files.
}

// Log appends entry to the audit log. Failures are ignored: an operation
// that already reached the backend is not reported as failed because the
// local log could not be written.
func Log(entry Entry) {
	path := LogPath()
	if path == "" {
		return
	}

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampLayout)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(data, '\n'))
}

// LogWithUser starts an entry for op performed by username.
func LogWithUser(op, username, userID string) Entry {
	return Entry{Operation: op, User: username, UserID: userID}
}

// LogPath returns the audit log location, or "" when no data directory is set.
func LogPath() string {
	if configs.SBoxSettings == nil {
		return ""
	}
	return configs.SBoxSettings.AuditPath
}

// ReadEntries reads every entry from the audit log. A missing log yields no
// entries and no error.
func ReadEntries() ([]Entry, error) {
	path := LogPath()
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEntries(data)
}

// ParseEntries parses JSON Lines. Malformed lines, such as a partial write
// at the end of the file, are skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

// Time parses the entry timestamp, accepting RFC 3339 as well.
func (e Entry) Time() (time.Time, error) {
	t, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		t, err = time.Parse(time.RFC3339, e.Timestamp)
	}
	return t, err
}
