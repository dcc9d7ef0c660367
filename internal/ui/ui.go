// Package ui prints operator-facing status lines.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Printer writes status lines, styled only when w is a terminal
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer for w
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Printer{w: w, color: color}
}

// OK prints a success line
func (p *Printer) OK(format string, args ...any) {
	p.line(okStyle, "✓", format, args...)
}

// Warn prints a warning line
func (p *Printer) Warn(format string, args ...any) {
	p.line(warnStyle, "!", format, args...)
}

// Error prints an error line
func (p *Printer) Error(format string, args ...any) {
	p.line(errStyle, "✗", format, args...)
}

// Info prints an indented detail line
func (p *Printer) Info(format string, args ...any) {
	msg := "  " + fmt.Sprintf(format, args...)
	if p.color {
		msg = dimStyle.Render(msg)
	}
	_, _ = fmt.Fprintln(p.w, msg)
}

func (p *Printer) line(style lipgloss.Style, mark, format string, args ...any) {
	if p.color {
		mark = style.Render(mark)
	}
	_, _ = fmt.Fprintf(p.w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}
