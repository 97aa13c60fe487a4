package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kerrors "github.com/PolarWolf314/sbox/internal/errors"
)

// CheckStatus represents the result status of a health check.
type CheckStatus int

const (
	CheckPass CheckStatus = iota
	CheckWarning
	CheckError
)

// String returns a string representation of CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarning:
		return "warning"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler for CheckStatus.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CheckResult holds the result of a single health check.
type CheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion,omitempty"`
}

// DoctorSummary holds counts of checks by status.
type DoctorSummary struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// DoctorResult holds the complete result of the doctor workflow.
type DoctorResult struct {
	Checks      []CheckResult `json:"checks"`
	Summary     DoctorSummary `json:"summary"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// Doctor checks, in order, that the configuration loads, the backend opens,
// the account logs in and its session refreshes, and that the common key of
// every linked SBox can be recovered. Later checks are skipped once an
// earlier one fails with an error.
func Doctor(ctx context.Context, conn Connection) (*DoctorResult, error) {
	var checks []CheckResult
	done := func() (*DoctorResult, error) { return summarize(checks), nil }

	if _, _, path, err := loadConfig(conn); err != nil {
		checks = append(checks, CheckResult{
			Name:       "Configuration",
			Status:     CheckError,
			Message:    err.Error(),
			Suggestion: "Run 'sbox config init --force' to rewrite " + path,
		})
		return done()
	}
	checks = append(checks, CheckResult{Name: "Configuration", Status: CheckPass, Message: "Configuration is valid"})

	s, err := openSession(conn)
	if err != nil {
		checks = append(checks, CheckResult{
			Name:       "Backend",
			Status:     CheckError,
			Message:    err.Error(),
			Suggestion: "Check [backend] dsn and blob_path",
		})
		return done()
	}
	defer s.close(ctx)
	checks = append(checks, CheckResult{Name: "Backend", Status: CheckPass, Message: fmt.Sprintf("Connected to %s backend", s.config.Backend.Driver)})

	if err := s.login(ctx); err != nil {
		check := CheckResult{Name: "Login", Status: CheckError, Message: err.Error()}
		switch {
		case errors.Is(err, kerrors.ErrUnauthorized):
			check.Suggestion = "Check the account password, or run 'sbox user signup' if the account does not exist"
		case errors.Is(err, kerrors.ErrCredential):
			check.Suggestion = "Check the encryption password"
		case errors.Is(err, kerrors.ErrPasswordRequired):
			check.Suggestion = "Set SBOX_PASSWORD and SBOX_E2E_PASSWORD or run from a terminal"
		}
		checks = append(checks, check)
		return done()
	}
	checks = append(checks, CheckResult{Name: "Login", Status: CheckPass, Message: "Logged in as " + s.user.Username})

	if expiry, err := s.user.UpdateAuth(ctx); err != nil {
		checks = append(checks, CheckResult{Name: "Session", Status: CheckError, Message: err.Error()})
	} else {
		checks = append(checks, CheckResult{Name: "Session", Status: CheckPass, Message: "Session valid for " + time.Until(expiry).Round(time.Minute).String()})
	}

	ids, err := s.user.SyncSBoxes(ctx)
	if err != nil {
		checks = append(checks, CheckResult{Name: "SBoxes", Status: CheckError, Message: err.Error()})
		return done()
	}
	if len(ids) == 0 {
		checks = append(checks, CheckResult{Name: "SBoxes", Status: CheckPass, Message: "Not linked to any SBox"})
	}
	for _, id := range ids {
		checks = append(checks, s.checkBox(ctx, id))
	}

	return done()
}

func (s *session) checkBox(ctx context.Context, id string) CheckResult {
	name := "SBox " + id
	sb, err := s.user.GetSBox(ctx, id)
	if errors.Is(err, kerrors.ErrSBoxNotFound) {
		return CheckResult{Name: name, Status: CheckWarning, Message: "Linked SBox no longer exists", Suggestion: "A partially failed delete left a dangling link; it is harmless"}
	}
	if err != nil {
		return CheckResult{Name: name, Status: CheckError, Message: err.Error()}
	}
	name = fmt.Sprintf("SBox %q", sb.Name)

	err = sb.Unlock(ctx, s.user)
	switch {
	case err == nil:
		return CheckResult{Name: name, Status: CheckPass, Message: "Common key recovered"}
	case errors.Is(err, kerrors.ErrKeyNotFound):
		return CheckResult{Name: name, Status: CheckWarning, Message: "Linked but no wrapped key (access was revoked or the grant did not finish)", Suggestion: "Ask the owner to grant access again"}
	case errors.Is(err, kerrors.ErrKeyConflict):
		return CheckResult{Name: name, Status: CheckError, Message: err.Error(), Suggestion: "Ask the owner to revoke and grant access again"}
	default:
		return CheckResult{Name: name, Status: CheckError, Message: err.Error()}
	}
}

func summarize(checks []CheckResult) *DoctorResult {
	result := &DoctorResult{Checks: checks}
	seen := make(map[string]bool)
	for _, c := range checks {
		switch c.Status {
		case CheckPass:
			result.Summary.Passed++
		case CheckWarning:
			result.Summary.Warnings++
		case CheckError:
			result.Summary.Errors++
		}
		if c.Suggestion != "" && c.Status != CheckPass && !seen[c.Suggestion] {
			seen[c.Suggestion] = true
			result.Suggestions = append(result.Suggestions, c.Suggestion)
		}
	}
	return result
}
