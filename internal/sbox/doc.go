// Package sbox implements secure boxes: shared containers of end-to-end
// encrypted documents and files on top of a storage.Backend.
//
// # Keys
//
// Each SBox has one symmetric common key. Every member holds a copy wrapped
// with their identity public key in the SBox keys collection:
//
//	{"user_id": "...", "wrapped_common_key": "<base64 RSA-OAEP>"}
//
// A User starts with no common keys. The first operation on an SBox recovers
// the key from the caller's wrapped copy; exactly one record must exist.
// Revocation deletes the record but does not rotate the key.
//
// # Records
//
// Documents are stored as
//
//	{"ciphertext", "created_at", "writer_id", "additional_data"}
//
// where created_at is a whole-second UTC timestamp that also determines the
// AES-GCM nonce. Files are uploaded as chunked blobs with a random nonce, and
// their record carries hashes of both the ciphertext and the plaintext.
//
// # Failure model
//
// Create, GrantAccess, RevokeAccess and Delete run as sequences of steps
// that are not rolled back. Each step is logged at debug level and a failure
// names the step that failed.
package sbox
