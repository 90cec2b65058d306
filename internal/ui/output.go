// Package ui provides user interface utilities for formatted terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/ceymard/chest/internal/container"
)

const (
	BoxWidth = 46
)

var (
	// Color/style functions
	Bold    = color.New(color.Bold).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()
	Green   = color.New(color.FgHiGreen).SprintFunc()
	Cyan    = color.New(color.FgCyan).SprintFunc()
	Yellow  = color.New(color.FgHiYellow).SprintFunc()
	Red     = color.New(color.FgHiRed).SprintFunc()
	Magenta = color.New(color.FgHiMagenta).SprintFunc()

	// Output destination, stderr so stdout stays usable in pipes
	Out io.Writer = os.Stderr
)

// Header prints the top border with the operation title.
func Header(title string) {
	label := "chest · " + title
	width := BoxWidth - len([]rune(label)) - 3
	if width < 1 {
		width = 1
	}
	fmt.Fprintf(Out, "  %s %s %s\n", Dim("┌"), Bold(label), Dim(strings.Repeat("─", width)))
}

// Footer prints the bottom border.
func Footer() {
	fmt.Fprintf(Out, "  %s\n", Dim("└"+strings.Repeat("─", BoxWidth-1)))
}

// Info prints an informational message with a cyan arrow.
func Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(Out, "  %s %s\n", Cyan("→"), msg)
}

// Success prints a success message with a green checkmark.
func Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(Out, "  %s %s\n", Green("✔"), msg)
}

// Fail prints an error message with a red X.
func Fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(Out, "  %s %s\n", Red("✘"), msg)
}

// Warn prints a warning message with a yellow sign.
func Warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(Out, "  %s %s\n", Yellow("⚠"), msg)
}

// DimMsg prints a dimmed message.
func DimMsg(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(Out, "  %s\n", Dim(msg))
}

// Show prints a resolved setting ("repository /backups/db").
func Show(key, value string) {
	fmt.Fprintf(Out, "  %s %s %s\n", Dim("·"), Dim(key), Bold(value))
}

// Transition narrates a container state change.
func Transition(t container.Transition) {
	switch t.Action {
	case container.ActionStopping:
		fmt.Fprintf(Out, "  %s stopping %s\n", Red("⏸"), Bold(t.Name))
	case container.ActionStarting:
		fmt.Fprintf(Out, "  %s starting %s\n", Green("⏵"), Bold(t.Name))
	case container.ActionCreating:
		fmt.Fprintf(Out, "  %s creating helper %s\n", Cyan("+"), Dim(t.Name))
	case container.ActionRemoving:
		fmt.Fprintf(Out, "  %s removing %s\n", Dim("-"), Dim(t.Name))
	default:
		fmt.Fprintf(Out, "  %s %s %s\n", Dim("·"), t.Action, t.Name)
	}
}

// FormatBytes renders a size with binary units ("1.5KiB").
func FormatBytes(n int64) string {
	return units.BytesSize(float64(n))
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
