package errors

import "errors"

// Credential errors indicate a login or password problem.
var (
	// ErrCredential indicates the private key could not be unwrapped with the
	// supplied password. A wrong password and corrupted key data look the same.
	ErrCredential = errors.New("invalid credentials")

	// ErrUnauthorized indicates the backend rejected the account username or password.
	ErrUnauthorized = errors.New("backend authentication failed")

	// ErrSessionExpired indicates the backend session token is unknown or expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotLoggedIn indicates an operation needs a user that has logged out.
	ErrNotLoggedIn = errors.New("user is not logged in")
)

// Key errors indicate a problem resolving an identity or common key.
var (
	// ErrKeyGeneration indicates a key pair or symmetric key could not be generated.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrNoKey indicates the common key for an SBox is not cached in this process.
	ErrNoKey = errors.New("common key not cached")

	// ErrKeyNotFound indicates no wrapped-key record exists for the caller.
	ErrKeyNotFound = errors.New("wrapped key not found")

	// ErrKeyConflict indicates more than one wrapped-key record exists for the caller.
	ErrKeyConflict = errors.New("multiple wrapped keys found")

	// ErrKeyUnwrap indicates a wrapped common key could not be unwrapped.
	ErrKeyUnwrap = errors.New("failed to unwrap common key")

	// ErrPublicKeyNotFound indicates a user has no published public key.
	ErrPublicKeyNotFound = errors.New("public key not found")
)

// Cryptographic errors indicate failures during encryption or decryption.
var (
	// ErrIntegrity indicates an authentication tag or content hash mismatch.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrEncryption indicates the encryption primitive failed.
	ErrEncryption = errors.New("encryption failed")

	// ErrDecode indicates a value could not be (de)serialized.
	ErrDecode = errors.New("decode failed")
)

// Protocol errors indicate a problem with the SBox protocol itself.
var (
	// ErrPagination indicates a listing did not converge within the page cap.
	ErrPagination = errors.New("pagination did not converge")

	// ErrUserNotFound indicates a username matched zero or several accounts.
	ErrUserNotFound = errors.New("user not found")

	// ErrSBoxNotFound indicates the SBox record does not exist.
	ErrSBoxNotFound = errors.New("sbox not found")

	// ErrAlreadyMember indicates the target user already holds a wrapped key.
	ErrAlreadyMember = errors.New("user already has access")

	// ErrSelfRevoke indicates a user attempted to revoke their own access.
	ErrSelfRevoke = errors.New("cannot revoke your own access")

	// ErrNotOwner indicates an owner-only operation was attempted by a member.
	ErrNotOwner = errors.New("only the owner can do this")
)

// Backend errors are returned by storage implementations.
var (
	// ErrNotFound indicates the requested backend resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrUsernameTaken indicates an account with that username already exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidUsername indicates the username does not match the allowed format.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrUploadIncomplete indicates a blob upload was committed with missing bytes.
	ErrUploadIncomplete = errors.New("blob upload incomplete")
)

// Config errors.
var (
	// ErrInvalidConfig indicates the configuration file is malformed.
	ErrInvalidConfig = errors.New("configuration is invalid")

	// ErrConfigExists indicates config init would overwrite an existing file.
	ErrConfigExists = errors.New("configuration file already exists")

	// ErrPasswordRequired indicates a password was neither in the environment
	// nor available from an interactive prompt.
	ErrPasswordRequired = errors.New("password required")

	// ErrNoFilesFound indicates no files matched the provided patterns.
	ErrNoFilesFound = errors.New("no matching files found")

	// ErrInvalidDateFormat indicates a date flag is not YYYY-MM-DD.
	ErrInvalidDateFormat = errors.New("invalid date format")
)
