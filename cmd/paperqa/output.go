package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// msgOut receives all human-oriented CLI messages so stdout stays clean for
// answers and JSON.
var msgOut io.Writer = os.Stderr

var (
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleStep    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	styleBold    = lipgloss.NewStyle().Bold(true)
	styleFaint   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func colorize(style lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return style.Render(text)
}

func emit(style lipgloss.Style, glyph, format string, args []any) {
	fmt.Fprintln(msgOut, colorize(style, glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { emit(styleSuccess, "✓", format, args) }
func printError(format string, args ...any)   { emit(styleError, "✗", format, args) }
func printWarning(format string, args ...any) { emit(styleWarning, "⚠", format, args) }
func printStep(format string, args ...any)    { emit(styleStep, "→", format, args) }

// printStatus prints an indented "label: value" line.
func printStatus(label, format string, args ...any) {
	fmt.Fprintf(msgOut, "  %s %s\n", colorize(styleBold, label+":"), fmt.Sprintf(format, args...))
}
