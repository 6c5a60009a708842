// Package ui prints human-facing progress lines to stderr.
package ui

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ANSI color/style codes
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
	blue   = "\033[34m"
	white  = "\033[97m"
)

var tty = term.IsTerminal(int(os.Stderr.Fd()))

// s wraps text with ANSI codes only when stderr is a TTY.
func s(codes, text string) string {
	if !tty {
		return text
	}
	return codes + text + reset
}

// Banner prints the startup banner.
//
//	fieldlink v0.1.0
func Banner(version string) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n", s(bold+cyan, "fieldlink"), s(dim, "v"+version))
}

// KeyValue prints a labeled line:  ▸ label  value
func KeyValue(label, value string) {
	fmt.Fprintf(os.Stderr, "  %s %-11s %s\n", s(cyan, "▸"), s(dim, label), s(white, value))
}

// Info prints an info line:  ● message
func Info(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(cyan, "●"), fmt.Sprintf(format, a...))
}

// Success prints a success line:  ✔ message
func Success(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(green, "✔"), fmt.Sprintf(format, a...))
}

// Warn prints a warning line:  ▲ message
func Warn(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(yellow, "▲"), fmt.Sprintf(format, a...))
}

// Error prints an error line:  ✖ message
func Error(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", s(red, "✖"), fmt.Sprintf(format, a...))
}

// Event prints an inbound event:  ◆ kind  detail
func Event(kind, detail string) {
	fmt.Fprintf(os.Stderr, "  %s %-20s %s\n", s(blue, "◆"), s(bold, kind), detail)
}

// Quality renders a connection quality label with a color matching its
// severity.
func Quality(label string) string {
	switch label {
	case "excellent", "good":
		return s(green, label)
	case "fair":
		return s(yellow, label)
	default:
		return s(red, label)
	}
}

// Separator prints a dim horizontal line.
func Separator() {
	fmt.Fprintf(os.Stderr, "  %s\n", s(dim, strings.Repeat("─", 48)))
}

// Dim wraps text in dim style (for use in other formatted output).
func Dim(text string) string {
	return s(dim, text)
}
