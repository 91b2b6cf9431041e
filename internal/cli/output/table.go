package output

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var (
	colorHealthy   = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	colorPending   = lipgloss.AdaptiveColor{Light: "136", Dark: "214"}
	colorUnhealthy = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorDisabled  = lipgloss.AdaptiveColor{Light: "245", Dark: "243"}
	colorAccent    = lipgloss.AdaptiveColor{Light: "25", Dark: "75"}

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorUnhealthy)
	hintStyle   = lipgloss.NewStyle().Foreground(colorDisabled)

	statusStyles = map[string]lipgloss.Style{
		"connected":     lipgloss.NewStyle().Foreground(colorHealthy),
		"ready":         lipgloss.NewStyle().Foreground(colorHealthy),
		"connecting":    lipgloss.NewStyle().Foreground(colorPending),
		"disconnecting": lipgloss.NewStyle().Foreground(colorPending),
		"disconnected":  lipgloss.NewStyle().Foreground(colorUnhealthy),
		"unauthorized":  lipgloss.NewStyle().Foreground(colorUnhealthy),
		"disabled":      lipgloss.NewStyle().Foreground(colorDisabled),
	}
)

// TableFormatter renders aligned columns for people reading a terminal
type TableFormatter struct {
	NoColor bool
	// TTY enables styling; it is detected from stdout by NewTableFormatter
	TTY bool
}

// NewTableFormatter detects whether stdout is a terminal
func NewTableFormatter(noColor bool) *TableFormatter {
	return &TableFormatter{
		NoColor: noColor,
		TTY:     term.IsTerminal(int(os.Stdout.Fd())),
	}
}

func (f *TableFormatter) styled() bool {
	return f.TTY && !f.NoColor
}

// Status colours a server or connection status. The escape codes count
// towards column width, so only use it in the last column of a table.
func (f *TableFormatter) Status(status string) string {
	if !f.styled() {
		return status
	}
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// Format renders values without a tabular shape as YAML
func (f *TableFormatter) Format(data any) (string, error) {
	if s, ok := data.(string); ok {
		return strings.TrimRight(s, "\n") + "\n", nil
	}
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *TableFormatter) FormatError(err StructuredError) (string, error) {
	var buf bytes.Buffer
	title := "Error"
	if err.Category != "" {
		title = fmt.Sprintf("Error [%s.%s]", err.Category, err.Code)
	}
	if f.styled() {
		title = errorStyle.Render(title)
	}
	fmt.Fprintf(&buf, "%s: %s\n", title, err.Message)
	if err.Hint != "" {
		hint := "  Hint: " + err.Hint
		if f.styled() {
			hint = hintStyle.Render(hint)
		}
		buf.WriteString(hint + "\n")
	}
	return buf.String(), nil
}

func (f *TableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	// styling the header cells would skew tabwriter widths, so the header
	// line is styled after alignment
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}

	out := buf.String()
	if f.styled() {
		header, rest, _ := strings.Cut(out, "\n")
		out = headerStyle.Render(header) + "\n" + rest
	}
	return out, nil
}
