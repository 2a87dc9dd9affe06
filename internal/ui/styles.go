// Package ui renders CLI output. Colors are applied only when stdout is a
// terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// colorEnabled is resolved once; tests override it.
var colorEnabled = IsTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether both stdin and stdout are terminals, which is
// required for prompts.
func Interactive() bool {
	return IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}

func RenderAccent(s string) string { return render(accentStyle, s) }
func RenderPass(s string) string   { return render(passStyle, s) }
func RenderWarn(s string) string   { return render(warnStyle, s) }
func RenderFail(s string) string   { return render(failStyle, s) }
func RenderMuted(s string) string  { return render(mutedStyle, s) }
func RenderHeader(s string) string { return render(headerStyle, s) }
