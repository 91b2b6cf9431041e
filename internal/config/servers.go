package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ServersKey is the required top-level key of the servers file
const ServersKey = "mcpServers"

// Known per-server keys. Anything else is carried through Extra untouched.
const (
	keyCommand            = "command"
	keyArgs               = "args"
	keyEnv                = "env"
	keyURL                = "url"
	keyHeaders            = "headers"
	keyDisabled           = "disabled"
	keyDisabledTools      = "disabled_tools"
	keyCustomInstructions = "custom_instructions"
)

// FieldError describes a servers file entry that failed validation
type FieldError struct {
	Server string
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	switch {
	case e.Server == "" && e.Field == "":
		return e.Reason
	case e.Server == "":
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	default:
		return fmt.Sprintf("server %q field %s: %s", e.Server, e.Field, e.Reason)
	}
}

// CustomInstructions is the per-server instruction overlay
type CustomInstructions struct {
	Text     *string `json:"text,omitempty"`
	Disabled *bool   `json:"disabled,omitempty"`
}

// ServerConfig is one entry of the servers file.
//
// Slices and maps are written back whenever they are non-nil, so an explicit
// empty list survives a rewrite. Keys the client does not understand are kept
// in Extra and written back verbatim.
type ServerConfig struct {
	Command            string              `json:"command,omitempty"`
	Args               []string            `json:"args,omitempty"`
	Env                map[string]string   `json:"env,omitempty"`
	URL                string              `json:"url,omitempty"`
	Headers            map[string]string   `json:"headers,omitempty"`
	Disabled           *bool               `json:"disabled,omitempty"`
	DisabledTools      []string            `json:"disabled_tools,omitempty"`
	CustomInstructions *CustomInstructions `json:"custom_instructions,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// IsDisabled reports whether the entry is disabled
func (c *ServerConfig) IsDisabled() bool {
	return c != nil && c.Disabled != nil && *c.Disabled
}

// UnmarshalJSON decodes known keys with per-field errors and keeps the rest in Extra
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &FieldError{Reason: "server entry must be an object"}
	}

	*c = ServerConfig{}
	for key, value := range raw {
		if isNull(value) || (isEmptyString(value) && (key == keyCommand || key == keyURL)) {
			// kept raw so the rewrite emits the key exactly as it was read
			c.setExtra(key, value)
			continue
		}
		var err error
		switch key {
		case keyCommand:
			err = json.Unmarshal(value, &c.Command)
		case keyArgs:
			err = json.Unmarshal(value, &c.Args)
		case keyEnv:
			err = json.Unmarshal(value, &c.Env)
		case keyURL:
			err = json.Unmarshal(value, &c.URL)
		case keyHeaders:
			err = json.Unmarshal(value, &c.Headers)
		case keyDisabled:
			var b bool
			if err = json.Unmarshal(value, &b); err == nil {
				c.Disabled = &b
			}
		case keyDisabledTools:
			if err = json.Unmarshal(value, &c.DisabledTools); err != nil {
				return &FieldError{Field: key, Reason: "must be an array of strings"}
			}
		case keyCustomInstructions:
			dec := json.NewDecoder(bytes.NewReader(value))
			dec.DisallowUnknownFields()
			var ci CustomInstructions
			if err = dec.Decode(&ci); err != nil {
				return &FieldError{Field: key, Reason: "must be an object of the form {text?: string, disabled?: boolean}"}
			}
			c.CustomInstructions = &ci
		default:
			c.setExtra(key, value)
		}
		if err != nil {
			return &FieldError{Field: key, Reason: err.Error()}
		}
	}
	return nil
}

func (c *ServerConfig) setExtra(key string, value json.RawMessage) {
	if c.Extra == nil {
		c.Extra = make(map[string]json.RawMessage)
	}
	c.Extra[key] = append(json.RawMessage(nil), value...)
}

// MarshalJSON writes Extra then known keys over it; encoding/json sorts the keys.
// A known key whose typed form is omitted falls back to its raw Extra value.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+8)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Command != "" {
		out[keyCommand] = c.Command
	}
	if c.Args != nil {
		out[keyArgs] = c.Args
	}
	if c.Env != nil {
		out[keyEnv] = c.Env
	}
	if c.URL != "" {
		out[keyURL] = c.URL
	}
	if c.Headers != nil {
		out[keyHeaders] = c.Headers
	}
	if c.Disabled != nil {
		out[keyDisabled] = *c.Disabled
	}
	if c.DisabledTools != nil {
		out[keyDisabledTools] = c.DisabledTools
	}
	if c.CustomInstructions != nil {
		out[keyCustomInstructions] = c.CustomInstructions
	}
	return json.Marshal(out)
}

// Validate checks the constraints that typed decoding cannot express
func (c *ServerConfig) Validate() error {
	for i, tool := range c.DisabledTools {
		if tool == "" {
			return &FieldError{Field: keyDisabledTools, Reason: fmt.Sprintf("entry %d is empty", i)}
		}
	}
	return nil
}

// ServersFile is the parsed servers configuration document
type ServersFile struct {
	MCPServers map[string]*ServerConfig
	Extra      map[string]json.RawMessage
}

// NewServersFile returns an empty document
func NewServersFile() *ServersFile {
	return &ServersFile{MCPServers: map[string]*ServerConfig{}}
}

// UnmarshalJSON requires the mcpServers key and attributes field errors to their server
func (f *ServersFile) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return &FieldError{Reason: fmt.Sprintf("not a JSON object: %v", err)}
	}

	servers, ok := raw[ServersKey]
	if !ok || isNull(servers) {
		return &FieldError{Field: ServersKey, Reason: "missing required key"}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(servers, &entries); err != nil {
		return &FieldError{Field: ServersKey, Reason: "must be an object keyed by server name"}
	}

	*f = ServersFile{MCPServers: make(map[string]*ServerConfig, len(entries))}
	for name, entry := range entries {
		var sc ServerConfig
		if err := json.Unmarshal(entry, &sc); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				fe.Server = name
				return fe
			}
			return &FieldError{Server: name, Reason: err.Error()}
		}
		f.MCPServers[name] = &sc
	}

	for key, value := range raw {
		if key == ServersKey {
			continue
		}
		if f.Extra == nil {
			f.Extra = make(map[string]json.RawMessage)
		}
		f.Extra[key] = append(json.RawMessage(nil), value...)
	}
	return nil
}

// MarshalJSON writes mcpServers plus any other top-level keys
func (f ServersFile) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+1)
	for k, v := range f.Extra {
		out[k] = v
	}
	servers := f.MCPServers
	if servers == nil {
		servers = map[string]*ServerConfig{}
	}
	out[ServersKey] = servers
	return json.Marshal(out)
}

// Validate validates every entry
func (f *ServersFile) Validate() error {
	for _, name := range f.Names() {
		if name == "" {
			return &FieldError{Field: ServersKey, Reason: "server name must not be empty"}
		}
		sc := f.MCPServers[name]
		if sc == nil {
			return &FieldError{Server: name, Reason: "server entry must be an object"}
		}
		if err := sc.Validate(); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				fe.Server = name
			}
			return err
		}
	}
	return nil
}

// Names returns the server names in sorted order
func (f *ServersFile) Names() []string {
	names := make([]string, 0, len(f.MCPServers))
	for name := range f.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server returns the named entry or nil
func (f *ServersFile) Server(name string) *ServerConfig {
	if f == nil {
		return nil
	}
	return f.MCPServers[name]
}

// Encode renders the document the way it is persisted: two-space indent and a trailing newline
func (f *ServersFile) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Parse decodes and validates a servers document
func Parse(data []byte) (*ServersFile, error) {
	var f ServersFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isEmptyString(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte(`""`))
}

func isKnownKey(key string) bool {
	switch key {
	case keyCommand, keyArgs, keyEnv, keyURL, keyHeaders, keyDisabled, keyDisabledTools, keyCustomInstructions:
		return true
	}
	return false
}
