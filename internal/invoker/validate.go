package invoker

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"mcphub-go/internal/mcperr"
)

// ValidationError reports every parameter that failed validation
type ValidationError struct {
	Fields  map[string]string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// converter checks one raw value and turns it into its declared type.
// The returned message is empty when the value conforms.
type converter func(p Param, raw string) (any, string)

var converters = map[ParamType]converter{
	TypeString:  convertString,
	TypeNumber:  convertNumber,
	TypeInteger: convertInteger,
	TypeBoolean: convertBoolean,
	TypeEnum:    convertEnum,
	TypeArray:   convertArray,
	TypeObject:  convertObject,
}

func convertString(_ Param, raw string) (any, string) {
	return raw, ""
}

func convertNumber(_ Param, raw string) (any, string) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, "must be a number"
	}
	return f, ""
}

func convertInteger(_ Param, raw string) (any, string) {
	i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil, "must be an integer"
	}
	return i, ""
}

func convertBoolean(_ Param, raw string) (any, string) {
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return nil, "must be true or false"
	}
	return b, ""
}

func convertEnum(p Param, raw string) (any, string) {
	for i, opt := range p.Enum {
		if opt == raw {
			if i < len(p.options) {
				return p.options[i], ""
			}
			return opt, ""
		}
	}
	return nil, "must be one of: " + strings.Join(p.Enum, ", ")
}

func convertArray(_ Param, raw string) (any, string) {
	var out []any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil || out == nil {
		return nil, "must be a JSON array"
	}
	return out, ""
}

func convertObject(_ Param, raw string) (any, string) {
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil || out == nil {
		return nil, "must be a JSON object"
	}
	return out, ""
}

// checkValue validates a single raw value against its parameter. Empty
// values only fail when the parameter is required.
func checkValue(p Param, raw string) string {
	if strings.TrimSpace(raw) == "" {
		if p.Required {
			return "is required"
		}
		return ""
	}
	conv, ok := converters[p.Type]
	if !ok {
		conv = convertString
	}
	_, msg := conv(p, raw)
	return msg
}

// validateParams checks every parameter and reports all failures at once
func validateParams(params []Param, values map[string]string) error {
	fields := map[string]string{}
	for _, p := range params {
		if msg := checkValue(p, values[p.Name]); msg != "" {
			fields[p.Name] = msg
		}
	}
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " " + fields[name]
	}
	verr := &ValidationError{
		Fields:  fields,
		Message: "invalid parameters: " + strings.Join(parts, "; "),
	}
	return mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeInvalidParams, verr.Message, verr,
		map[string]any{"fields": fields})
}

// convertParams turns validated raw values into typed arguments. Empty
// optional values are left out.
func convertParams(params []Param, values map[string]string) (map[string]any, error) {
	args := make(map[string]any, len(params))
	for _, p := range params {
		raw, ok := values[p.Name]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		conv, ok := converters[p.Type]
		if !ok {
			conv = convertString
		}
		v, msg := conv(p, raw)
		if msg != "" {
			return nil, mcperr.Runtime(mcperr.CodeInvalidParams, fmt.Sprintf("%s %s", p.Name, msg),
				map[string]any{"fields": map[string]string{p.Name: msg}})
		}
		args[p.Name] = v
	}
	return args, nil
}

// ValidationErrors extracts the per-parameter messages from an invocation error
func ValidationErrors(err error) map[string]string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return nil
}
