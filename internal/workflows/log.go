package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PolarWolf314/sbox/internal/audit"
	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// LogOptions configures the log workflow.
type LogOptions struct {
	// Limit is the maximum number of entries to return. 0 means no limit.
	Limit int

	// Reverse orders entries from most recent to oldest.
	Reverse bool

	// User filters entries by username.
	User string

	// Box filters entries by SBox id or name.
	Box string

	// Operations filters entries by operation (comma-separated).
	Operations string

	// Since and Until bound entry dates (YYYY-MM-DD), both inclusive.
	Since string
	Until string
}

// LogResult contains the filtered audit entries.
type LogResult struct {
	Entries []audit.Entry

	// TotalEntriesBeforeFilter is the count of entries before filtering.
	TotalEntriesBeforeFilter int
}

// Log reads and filters the local audit log. A missing log yields no entries.
//
// Returns ErrInvalidDateFormat if Since or Until is malformed.
func Log(ctx context.Context, opts LogOptions) (*LogResult, error) {
	var since, until time.Time
	var err error
	if opts.Since != "" {
		if since, err = time.Parse("2006-01-02", opts.Since); err != nil {
			return nil, fmt.Errorf("%w: --since date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
	}
	if opts.Until != "" {
		if until, err = time.Parse("2006-01-02", opts.Until); err != nil {
			return nil, fmt.Errorf("%w: --until date format invalid, use YYYY-MM-DD", kerrors.ErrInvalidDateFormat)
		}
		until = until.Add(24*time.Hour - time.Nanosecond)
	}

	entries, err := audit.ReadEntries()
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	result := &LogResult{TotalEntriesBeforeFilter: len(entries)}

	var ops map[string]bool
	if opts.Operations != "" {
		ops = make(map[string]bool)
		for _, op := range strings.Split(opts.Operations, ",") {
			ops[strings.ToLower(strings.TrimSpace(op))] = true
		}
	}

	filtered := make([]audit.Entry, 0, len(entries))
	for _, e := range entries {
		if opts.User != "" && !strings.EqualFold(e.User, opts.User) {
			continue
		}
		if opts.Box != "" && e.SBox != opts.Box && e.SBoxName != opts.Box {
			continue
		}
		if ops != nil && !ops[strings.ToLower(e.Operation)] {
			continue
		}
		if !since.IsZero() || !until.IsZero() {
			t, err := e.Time()
			if err != nil {
				continue
			}
			if !since.IsZero() && t.Before(since) {
				continue
			}
			if !until.IsZero() && t.After(until) {
				continue
			}
		}
		filtered = append(filtered, e)
	}

	if opts.Reverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	// The limit keeps the most recent entries in either order.
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		if opts.Reverse {
			filtered = filtered[:opts.Limit]
		} else {
			filtered = filtered[len(filtered)-opts.Limit:]
		}
	}

	result.Entries = filtered
	return result, nil
}

// FormatDateTime formats an entry timestamp as YYYY-MM-DD HH:MM:SS.
func FormatDateTime(e audit.Entry) string {
	t, err := e.Time()
	if err != nil {
		if len(e.Timestamp) >= 19 {
			return e.Timestamp[:19]
		}
		return e.Timestamp
	}
	return t.Format("2006-01-02 15:04:05")
}

// FormatDetails summarizes the operation-specific fields of an entry.
func FormatDetails(e audit.Entry) string {
	box := e.SBoxName
	if box == "" {
		box = e.SBox
	}

	switch e.Operation {
	case "grant", "revoke":
		return fmt.Sprintf("%s on %s", e.TargetUser, box)
	case "insert", "remove":
		return fmt.Sprintf("%s in %s", e.DocumentID, box)
	case "insert-file":
		if len(e.Files) > 3 {
			return fmt.Sprintf("%d files into %s", len(e.Files), box)
		}
		return fmt.Sprintf("%s into %s", strings.Join(e.Files, ", "), box)
	case "remove-file":
		return fmt.Sprintf("%s from %s", strings.Join(e.FileIDs, ", "), box)
	case "retrieve":
		return fmt.Sprintf("%d documents from %s", e.Count, box)
	case "retrieve-files":
		return fmt.Sprintf("%d files from %s", e.Count, box)
	case "create", "delete":
		return box
	default:
		return ""
	}
}
