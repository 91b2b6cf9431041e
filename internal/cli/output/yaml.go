package output

import "gopkg.in/yaml.v3"

// YAMLFormatter formats output as YAML
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (f *YAMLFormatter) FormatError(err StructuredError) (string, error) {
	return f.Format(err)
}

func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}
