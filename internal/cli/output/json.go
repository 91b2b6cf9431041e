package output

import "encoding/json"

// JSONFormatter formats output as JSON
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data any) (string, error) {
	var (
		out []byte
		err error
	)
	if f.Indent {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func (f *JSONFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

// FormatTable renders the rows as an array of objects keyed by header
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}
