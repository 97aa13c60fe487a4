// Package workflows provides high-level orchestration for sbox commands.
//
// Workflows coordinate configuration, storage, the sbox protocol and the
// audit log to implement complete user-facing features. Each workflow handles
// a single command's business logic, independent of CLI concerns like flag
// parsing, spinners, and output formatting.
//
// The cmd/ package is a thin layer that parses flags, builds a Connection,
// calls the workflow and formats the result. Workflows do everything else:
//   - resolving configuration from file, .env and environment
//   - opening the metadata and blob stores and logging in
//   - performing the operation through internal/sbox
//   - recording an audit entry
//
// # Available Workflows
//
//   - ConfigInit, ConfigShow: write and inspect the configuration file
//   - SignUp, SearchUser, DeleteAccount: account management
//   - CreateBox, ListBoxes, Members, Grant, Revoke, DeleteBox: SBox lifecycle
//   - Insert, Retrieve, Remove: encrypted JSON documents
//   - InsertFiles, RetrieveFiles, RemoveFile: encrypted files
//   - Log: filter the local audit log
//   - Doctor: health checks for configuration, backend, login and keys
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package so the CLI
// can pick a message with errors.Is:
//
//	_, err := workflows.Grant(ctx, conn, "team", "bob")
//	if errors.Is(err, kerrors.ErrUserNotFound) {
//	    // Suggest 'sbox user search'
//	}
//
// Partially failed multi-step operations are not rolled back. The error names
// the step that failed.
package workflows
