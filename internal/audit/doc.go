// Package audit records the SBox operations run from this machine.
//
// Entries are appended as JSON Lines to audit.jsonl in the sbox data
// directory:
//
//	{"ts":"2024-05-01T10:00:00.000000Z","user":"alice","uuid":"...","op":"grant","sbox":"...","target_user":"bob"}
//
// The log is local. It shows what this client did, not what other members
// of an SBox did.
//
// # Usage
//
//	entry := audit.LogWithUser("insert", user.Username, user.ID)
//	entry.SBox = box.ID
//	entry.DocumentID = id
//	audit.Log(entry)
//
// Logging is best-effort and never fails the operation. ReadEntries skips
// malformed lines so a torn final write does not hide the rest of the log.
package audit
