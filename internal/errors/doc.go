// Package errors provides typed error values for sbox.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching.
//
// # Error Categories
//
//   - Credential errors: bad password, rejected login, expired session
//   - Key errors: missing, conflicting or unwrappable common keys
//   - Crypto errors: authentication failures and (de)serialization problems
//   - Protocol errors: pagination, unknown users or SBoxes
//   - Backend errors: returned by the storage implementations
//
// # Usage
//
// Wrap errors with operation context:
//
//	return fmt.Errorf("recovering key for sbox %s: %w", id, errors.ErrKeyNotFound)
//
// And branch in the caller:
//
//	if errors.Is(err, kerrors.ErrKeyNotFound) {
//	    // access was revoked or never granted
//	}
//
// A username that matches nobody is a normal outcome for lookups, which
// return a false "found" flag instead of ErrUserNotFound. Operations that
// need the user (grant, revoke) surface ErrUserNotFound.
package errors
