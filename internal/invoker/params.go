package invoker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ParamType is the declared type of one input parameter
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeEnum    ParamType = "enum"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param describes one input a capability accepts
type Param struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`

	// enum values as declared by the schema, parallel to Enum
	options []any
}

// sortParams orders required parameters before optional ones, each group by name
func sortParams(params []Param) []Param {
	sort.SliceStable(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params
}

// toolSchema returns the tool's input schema whichever way it was declared
func toolSchema(tool mcp.Tool) (mcp.ToolArgumentsSchema, error) {
	if len(tool.RawInputSchema) > 0 {
		var schema mcp.ToolArgumentsSchema
		if err := json.Unmarshal(tool.RawInputSchema, &schema); err != nil {
			return schema, fmt.Errorf("parsing input schema of %s: %w", tool.Name, err)
		}
		return schema, nil
	}
	return mcp.ToolArgumentsSchema(tool.InputSchema), nil
}

// toolParams derives parameters from the tool's JSON schema properties
func toolParams(tool mcp.Tool) []Param {
	schema, err := toolSchema(tool)
	if err != nil {
		return nil
	}
	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	params := make([]Param, 0, len(schema.Properties))
	for name, raw := range schema.Properties {
		prop, _ := raw.(map[string]any)
		p := Param{
			Name:     name,
			Type:     schemaType(prop),
			Required: required[name],
		}
		if desc, ok := prop["description"].(string); ok {
			p.Description = desc
		}
		if options := enumOptions(prop); len(options) > 0 {
			p.Type = TypeEnum
			p.options = options
			for _, opt := range options {
				p.Enum = append(p.Enum, fmt.Sprint(opt))
			}
		}
		params = append(params, p)
	}
	return sortParams(params)
}

// schemaType reads "type" from a property schema. A type list takes its first
// non-null entry; an untyped property is treated as a string.
func schemaType(prop map[string]any) ParamType {
	var declared string
	switch t := prop["type"].(type) {
	case string:
		declared = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				declared = s
				break
			}
		}
	case []string:
		for _, s := range t {
			if s != "null" {
				declared = s
				break
			}
		}
	}
	switch ParamType(strings.ToLower(strings.TrimSpace(declared))) {
	case TypeNumber:
		return TypeNumber
	case TypeInteger:
		return TypeInteger
	case TypeBoolean:
		return TypeBoolean
	case TypeArray:
		return TypeArray
	case TypeObject:
		return TypeObject
	default:
		return TypeString
	}
}

func enumOptions(prop map[string]any) []any {
	switch v := prop["enum"].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}

// templateParams returns one required string per URI-template variable
func templateParams(names []string) []Param {
	params := make([]Param, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, Param{Name: name, Type: TypeString, Required: true})
	}
	return sortParams(params)
}
