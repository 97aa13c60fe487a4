package workflows

import (
	"context"
	"fmt"

	"github.com/PolarWolf314/sbox/internal/audit"
)

// SignUpOptions configures the sign-up workflow.
type SignUpOptions struct {
	Connection

	// Info is free-form profile data stored with the account.
	Info map[string]string
}

// SignUpResult contains the new account.
type SignUpResult struct {
	UserID   string
	Username string
}

// SignUp creates an account for the configured username and publishes its
// identity public key.
//
// Returns ErrInvalidUsername, ErrUsernameTaken or ErrPasswordRequired.
func SignUp(ctx context.Context, opts SignUpOptions) (*SignUpResult, error) {
	s, err := openSession(opts.Connection)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	username, err := s.username()
	if err != nil {
		return nil, err
	}
	password, err := s.secret(s.creds.Password, "account password")
	if err != nil {
		return nil, err
	}
	e2e, err := s.secret(s.creds.E2EPassword, "encryption password")
	if err != nil {
		return nil, err
	}
	if e2e == password {
		s.log.Warnf("The encryption password matches the account password; anyone able to log in can read your SBoxes")
	}

	id, err := s.client.SignUp(ctx, username, password, e2e, opts.Info)
	if err != nil {
		return nil, err
	}

	audit.Log(audit.LogWithUser("signup", username, id))
	return &SignUpResult{UserID: id, Username: username}, nil
}

// SearchUserResult contains the outcome of a user search.
type SearchUserResult struct {
	Username string
	UserID   string
	Found    bool
}

// SearchUser looks up an account by exact username.
func SearchUser(ctx context.Context, conn Connection, username string) (*SearchUserResult, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	id, found, err := s.user.Search(ctx, username)
	if err != nil {
		return nil, err
	}
	return &SearchUserResult{Username: username, UserID: id, Found: found}, nil
}

// DeleteAccountResult contains the outcome of account deletion.
type DeleteAccountResult struct {
	Username string
	UserID   string
}

// DeleteAccount deletes the configured account: owned SBoxes are deleted
// and shared ones are left.
func DeleteAccount(ctx context.Context, conn Connection) (*DeleteAccountResult, error) {
	s, err := openUserSession(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close(ctx)

	user := s.user
	if err := user.DeleteAccount(ctx); err != nil {
		return nil, fmt.Errorf("deleting account %s: %w", user.Username, err)
	}
	s.user = nil

	audit.Log(audit.LogWithUser("delete-account", user.Username, user.ID))
	return &DeleteAccountResult{Username: user.Username, UserID: user.ID}, nil
}
