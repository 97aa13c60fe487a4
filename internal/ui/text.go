package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Formatter applies semantic formatting to text.
type Formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

// Sprint formats the arguments and returns the resulting string.
func (f Formatter) Sprint(a ...interface{}) string {
	return f.render(fmt.Sprint(a...))
}

// Sprintf formats according to a format specifier and returns the resulting string.
func (f Formatter) Sprintf(format string, a ...interface{}) string {
	return f.render(fmt.Sprintf(format, a...))
}

func (f Formatter) render(text string) string {
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// EnsureNewline ensures the string ends with a newline character.
func EnsureNewline(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\n' {
		return s + "\n"
	}
	return s
}

// Fields renders label/value pairs as an aligned block, one pair per line.
// Labels are padded to the longest label.
func Fields(pairs ...string) string {
	width := 0
	for i := 0; i < len(pairs); i += 2 {
		if len(pairs[i]) > width {
			width = len(pairs[i])
		}
	}

	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		b.WriteString("  ")
		b.WriteString(Muted.plain(fmt.Sprintf("%-*s", width+1, pairs[i]+":")))
		b.WriteString(" ")
		b.WriteString(pairs[i+1])
		b.WriteString("\n")
	}
	return b.String()
}

// plain colors text without the no-color decoration.
func (f Formatter) plain(text string) string {
	if noColor() {
		return text
	}
	return f.color.Sprint(text)
}

func noColor() bool {
	// https://no-color.org/
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	return color.NoColor
}

// Semantic formatters for CLI output.
var (
	// Code formats runnable commands. Yellow, or `backticks` without color.
	Code = Formatter{color.New(color.FgYellow), "`", "`"}

	// Path formats file or directory paths.
	Path = Formatter{color.New(color.FgYellow), "", ""}

	// Flag formats CLI flags like --verbose.
	Flag = Formatter{color.New(color.FgYellow), "", ""}

	Success = Formatter{color.New(color.FgGreen), "", ""}
	Error   = Formatter{color.New(color.FgRed), "", ""}
	Warning = Formatter{color.New(color.FgYellow), "", ""}
	Info    = Formatter{color.New(color.FgCyan), "", ""}

	// Highlight formats user-supplied values such as usernames and SBox
	// names. Cyan, or 'single quotes' without color.
	Highlight = Formatter{color.New(color.FgCyan), "'", "'"}

	// ID formats backend identifiers. Bold magenta, or <angle brackets>.
	ID = Formatter{color.New(color.FgMagenta, color.Bold), "<", ">"}

	// Muted formats secondary text. Gray, or (parentheses).
	Muted = Formatter{color.New(color.FgHiBlack), "(", ")"}
)
