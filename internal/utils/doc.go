// Package utils holds small helpers shared by the CLI and workflows.
//
// # Input
//
//   - ReadStdin: reads piped document JSON
//   - ReadPassword: hidden prompt on the controlling terminal
//   - IsTerminal: reports whether stdin is interactive
//
// # Names
//
//   - GetUsername: the operating system account name
//   - SanitizeUsername / IsValidUsername: normalize and check SBox usernames
//
// # Files
//
//   - ResolveFiles: expands ** glob patterns into regular files
//   - FormatPaths: renders a list of paths for CLI output
package utils
