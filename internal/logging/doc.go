// Package logger provides leveled logging for sbox commands and the SBox
// protocol layer.
//
// # Verbosity Levels
//
//   - --verbose: shows info messages
//   - --debug: shows info and debug messages, including every saga step
//
// Warnings and errors are always written to stderr.
//
// # Usage
//
//	log := logger.Logger{Verbose: verbose, Debug: debug}
//	log.Infof("Retrieved %d documents", n)
//
// Commands create a logger in their PersistentPreRun and pass it down to
// workflows, which hand it to the protocol client.
package logger
