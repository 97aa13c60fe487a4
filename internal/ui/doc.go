// Package ui provides semantic text formatting for CLI output.
//
// Formatters colorize content when the terminal supports it and fall back
// to text decorations when NO_COLOR is set or color is unavailable:
//
//	ui.Code.Sprint("sbox box create notes")  // `sbox box create notes`
//	ui.Highlight.Sprint("alice")              // 'alice'
//	ui.ID.Sprint("5f0c...")                   // <5f0c...>
//	ui.Muted.Sprint("owner")                  // (owner)
//
// Path, Flag, Success, Error, Warning and Info carry no decoration.
//
// Fields renders aligned "label: value" blocks for show-style commands.
package ui
