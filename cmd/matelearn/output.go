package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/ugorji/go/codec"
)

var styles = struct {
	header lipgloss.Style
	cell   lipgloss.Style
	border lipgloss.Style
	title  lipgloss.Style
	muted  lipgloss.Style
	err    lipgloss.Style
}{
	header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7")).Padding(0, 1),
	cell:   lipgloss.NewStyle().Padding(0, 1),
	border: lipgloss.NewStyle().Foreground(lipgloss.Color("#16858E")),
	title:  lipgloss.NewStyle().Bold(true),
	muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("#2C4A54")),
	err:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E74C3C")),
}

var jsonOut = func() *codec.JsonHandle {
	h := &codec.JsonHandle{}
	h.Indent = 2
	h.Canonical = true
	h.HTMLCharsAsIs = true
	return h
}()

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printer renders results as styled tables on a terminal, tab-aligned text
// when piped, or JSON.
type printer struct {
	w    io.Writer
	json bool
	tty  bool
}

func (a *app) printer() printer {
	return printer{w: a.stdout, json: a.format == "json", tty: isTerminal(a.stdout)}
}

func (p printer) encode(v any) error {
	if err := codec.NewEncoder(p.w, jsonOut).Encode(v); err != nil {
		return err
	}
	_, err := fmt.Fprintln(p.w)
	return err
}

func (p printer) title(s string) {
	if p.tty {
		s = styles.title.Render(s)
	}
	fmt.Fprintln(p.w, s)
}

func (p printer) note(s string) {
	if p.tty {
		s = styles.muted.Render(s)
	}
	fmt.Fprintln(p.w, s)
}

func (p printer) table(headers []string, rows [][]string) error {
	if p.tty {
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(styles.border).
			Headers(headers...).
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return styles.header
				}
				return styles.cell
			})
		_, err := fmt.Fprintln(p.w, t.Render())
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	return tw.Flush()
}

func ff(v float64) string { return fmt.Sprintf("%.3f", v) }
