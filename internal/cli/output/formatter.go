// Package output renders command results as a table, JSON or YAML and turns
// client errors into structured output.
package output

import (
	"fmt"
	"os"
	"strings"
)

// EnvFormat selects the default output format
const EnvFormat = "MCPHUB_OUTPUT"

// Formatter formats structured data for CLI output
type Formatter interface {
	// Format renders an arbitrary value
	Format(data any) (string, error)

	// FormatError renders a structured error
	FormatError(err StructuredError) (string, error)

	// FormatTable renders rows under headers
	FormatTable(headers []string, rows [][]string) (string, error)
}

// Options tunes the table formatter
type Options struct {
	NoColor bool
}

// NewFormatter creates a formatter for table, json or yaml (case-insensitive)
func NewFormatter(format string, opts Options) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONFormatter{Indent: true}, nil
	case "yaml":
		return &YAMLFormatter{}, nil
	case "table", "":
		return NewTableFormatter(opts.NoColor || os.Getenv("NO_COLOR") != ""), nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the format: --json, then -o, then MCPHUB_OUTPUT, then table
func ResolveFormat(outputFlag string, jsonFlag bool) string {
	if jsonFlag {
		return "json"
	}
	if outputFlag != "" {
		return outputFlag
	}
	if env := os.Getenv(EnvFormat); env != "" {
		return env
	}
	return "table"
}

// rowsToObjects turns a table into one map per row for the structured formats
func rowsToObjects(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		out = append(out, obj)
	}
	return out
}
