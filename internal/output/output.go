// Package output provides consistent CLI output formatting for cmd/qmd.
package output

import (
	"fmt"
	"io"
)

// Writer provides formatted output for the CLI.
type Writer struct {
	out io.Writer
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints a status message with an icon.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) { w.Status("✓", msg) }

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) { w.Status("!", msg) }

// Error prints an error message.
func (w *Writer) Error(msg string) { w.Status("x", msg) }

// Newline prints an empty line.
func (w *Writer) Newline() { _, _ = fmt.Fprintln(w.out) }
