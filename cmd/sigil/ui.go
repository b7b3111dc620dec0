package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/recera/sigil/pkg/sigil/diag"
)

// Style definitions
var (
	// Colors
	primaryColor = lipgloss.Color("#3b82f6")
	successColor = lipgloss.Color("#10b981")
	warningColor = lipgloss.Color("#f59e0b")
	errorColor   = lipgloss.Color("#ef4444")
	mutedColor   = lipgloss.Color("#94a3b8")

	pathStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// renderDiagnostic formats one diagnostic as
// "path:line:col severity message [kind]".
func renderDiagnostic(e *diag.Error, path string) string {
	if e.Path != "" {
		path = e.Path
	}
	loc := path
	if e.Location != nil {
		loc = fmt.Sprintf("%s:%d:%d", path, e.Location.Start.Line, e.Location.Start.Column)
	}

	severity := errorStyle.Render("error")
	if e.Kind == diag.KindAutoClosed {
		severity = warningStyle.Render("warning")
	}
	return fmt.Sprintf("%s %s %s %s",
		pathStyle.Render(loc),
		severity,
		e.Message,
		mutedStyle.Render("["+e.Kind.String()+"]"))
}

// printDiagnostics writes every diagnostic of list and returns how many
// were errors.
func printDiagnostics(w io.Writer, path string, list diag.List) int {
	errs := 0
	for _, e := range list {
		if e.Kind != diag.KindAutoClosed {
			errs++
		}
		fmt.Fprintln(w, renderDiagnostic(e, path))
	}
	return errs
}

// printError prints err as diagnostics when it carries any, or as a
// single line otherwise.
func printError(w io.Writer, path string, err error) {
	var list diag.List
	if errors.As(err, &list) {
		printDiagnostics(w, path, list)
		return
	}
	var d *diag.Error
	if errors.As(err, &d) {
		fmt.Fprintln(w, renderDiagnostic(d, path))
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", pathStyle.Render(path), errorStyle.Render("error"), strings.TrimSpace(err.Error()))
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
