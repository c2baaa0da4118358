package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// isTerminal reports whether w is a terminal file.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// useColor reports whether ANSI colors should be written to w.
func useColor(w io.Writer) bool {
	return isTerminal(w) && os.Getenv("NO_COLOR") == ""
}

// printTable renders headers and rows to w. Terminals get a rounded box
// with colored headers; pipes get plain space-separated columns that are easy
// to grep and cut.
func printTable(w io.Writer, headers []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)

	if useColor(w) {
		t.SetStyle(table.StyleRounded)
		t.Style().Color.Header = text.Colors{text.FgHiCyan}
	} else {
		t.SetStyle(plainStyle())
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}

	t.AppendHeader(header)

	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}

		t.AppendRow(row)
	}

	t.Render()
}

// plainStyle is a borderless style with two-space column gaps.
func plainStyle() table.Style {
	s := table.StyleDefault
	s.Name = "plain"
	s.Box.PaddingLeft = ""
	s.Box.PaddingRight = "  "
	s.Options = table.Options{}
	s.Format.Header = text.FormatDefault

	return s
}
