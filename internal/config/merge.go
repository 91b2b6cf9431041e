package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"
)

// ErrInvalidConfig is returned when a merged entry fails validation
var ErrInvalidConfig = errors.New("invalid configuration after merge")

// MergeOptions controls merge behavior
type MergeOptions struct {
	// GenerateDiff controls whether to compute changes for the update log
	GenerateDiff bool

	// removeMarkers lists known keys to drop from the merged entry
	removeMarkers map[string]bool
}

// DefaultMergeOptions returns standard merge options
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		GenerateDiff:  true,
		removeMarkers: make(map[string]bool),
	}
}

// WithRemoveMarker marks a known key for removal from the merged entry
func (o MergeOptions) WithRemoveMarker(field string) MergeOptions {
	markers := make(map[string]bool, len(o.removeMarkers)+1)
	for k, v := range o.removeMarkers {
		markers[k] = v
	}
	markers[field] = true
	o.removeMarkers = markers
	return o
}

// ShouldRemove checks if a field should be removed
func (o MergeOptions) ShouldRemove(field string) bool {
	return o.removeMarkers[field]
}

// ConfigDiff captures changes made during a merge operation
type ConfigDiff struct {
	// Modified fields with before/after values
	Modified map[string]FieldChange `json:"modified,omitempty"`

	// Fields that did not exist in base
	Added []string `json:"added,omitempty"`

	// Fields that were removed
	Removed []string `json:"removed,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// FieldChange represents a single field modification
type FieldChange struct {
	// Path to the field (e.g., "custom_instructions.text")
	Path string      `json:"path"`
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// NewConfigDiff creates a new ConfigDiff
func NewConfigDiff() *ConfigDiff {
	return &ConfigDiff{
		Modified:  make(map[string]FieldChange),
		Added:     []string{},
		Removed:   []string{},
		Timestamp: time.Now(),
	}
}

// IsEmpty returns true if no changes were made
func (d *ConfigDiff) IsEmpty() bool {
	return d == nil || (len(d.Modified) == 0 && len(d.Added) == 0 && len(d.Removed) == 0)
}

// Fields returns every touched path in sorted order
func (d *ConfigDiff) Fields() []string {
	if d == nil {
		return nil
	}
	fields := make([]string, 0, len(d.Modified)+len(d.Added)+len(d.Removed))
	for k := range d.Modified {
		fields = append(fields, k)
	}
	fields = append(fields, d.Added...)
	fields = append(fields, d.Removed...)
	sort.Strings(fields)
	return fields
}

func (d *ConfigDiff) record(path string, from, to interface{}, existed bool) {
	if d == nil || reflect.DeepEqual(from, to) {
		return
	}
	if !existed {
		d.Added = append(d.Added, path)
		return
	}
	d.Modified[path] = FieldChange{Path: path, From: from, To: to}
}

// MergeServerConfig deep merges patch into base, returning the merged config and diff.
//
// Merge semantics:
//   - Scalar fields: replace when set in the patch (non-empty string, non-nil pointer)
//   - Map fields (env, headers): merge per key
//   - Array fields (args, disabled_tools): replace entirely when non-nil
//   - custom_instructions: merge per field
//   - Unknown keys: merge per key, a JSON null in the patch removes the key
//   - Raw null or empty known keys in the patch are ignored; removal goes through WithRemoveMarker
//
// Both inputs are validated before merging and the result is validated after.
func MergeServerConfig(base, patch *ServerConfig, opts MergeOptions) (*ServerConfig, *ConfigDiff, error) {
	if base == nil && patch == nil {
		return nil, nil, fmt.Errorf("%w: both base and patch are nil", ErrInvalidConfig)
	}
	if base != nil {
		if err := base.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: base: %w", ErrInvalidConfig, err)
		}
	}
	if patch != nil {
		if err := patch.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: patch: %w", ErrInvalidConfig, err)
		}
	}

	var diff *ConfigDiff
	if opts.GenerateDiff {
		diff = NewConfigDiff()
	}

	if base == nil {
		merged := copyServerConfig(patch)
		stripNullExtras(merged)
		if diff != nil {
			diff.Added = append(diff.Added, "*")
		}
		return merged, diff, nil
	}

	merged := copyServerConfig(base)
	if patch == nil {
		return merged, diff, nil
	}

	if patch.Command != "" {
		diff.record(keyCommand, base.Command, patch.Command, base.Command != "")
		merged.Command = patch.Command
	}
	if patch.URL != "" {
		diff.record(keyURL, base.URL, patch.URL, base.URL != "")
		merged.URL = patch.URL
	}
	if patch.Disabled != nil {
		diff.record(keyDisabled, base.IsDisabled(), *patch.Disabled, base.Disabled != nil)
		v := *patch.Disabled
		merged.Disabled = &v
	}

	if patch.Args != nil {
		diff.record(keyArgs, base.Args, patch.Args, base.Args != nil)
		merged.Args = slices.Clone(patch.Args)
	}
	if patch.DisabledTools != nil {
		diff.record(keyDisabledTools, base.DisabledTools, patch.DisabledTools, base.DisabledTools != nil)
		merged.DisabledTools = slices.Clone(patch.DisabledTools)
	}

	if patch.Env != nil {
		merged.Env = MergeMap(base.Env, patch.Env)
		diff.record(keyEnv, base.Env, merged.Env, base.Env != nil)
	}
	if patch.Headers != nil {
		merged.Headers = MergeMap(base.Headers, patch.Headers)
		diff.record(keyHeaders, base.Headers, merged.Headers, base.Headers != nil)
	}

	if patch.CustomInstructions != nil {
		merged.CustomInstructions = MergeCustomInstructions(base.CustomInstructions, patch.CustomInstructions)
		diff.record(keyCustomInstructions, base.CustomInstructions, merged.CustomInstructions, base.CustomInstructions != nil)
	}

	for key, value := range patch.Extra {
		if isKnownKey(key) {
			continue
		}
		before, existed := base.Extra[key]
		if isNull(value) {
			if existed {
				delete(merged.Extra, key)
				if diff != nil {
					diff.Removed = append(diff.Removed, key)
				}
			}
			continue
		}
		if merged.Extra == nil {
			merged.Extra = make(map[string]json.RawMessage)
		}
		merged.Extra[key] = append(json.RawMessage(nil), value...)
		if diff != nil && !bytes.Equal(before, value) {
			diff.record(key, string(before), string(value), existed)
		}
	}

	for _, key := range []string{keyCommand, keyArgs, keyEnv, keyURL, keyHeaders, keyDisabled, keyDisabledTools, keyCustomInstructions} {
		if opts.ShouldRemove(key) && removeKnown(merged, key) && diff != nil {
			diff.Removed = append(diff.Removed, key)
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return merged, diff, nil
}

// MergeMap deep merges src into dst, returning a new map.
// The original maps are not modified.
func MergeMap(dst, src map[string]string) map[string]string {
	if dst == nil && src == nil {
		return nil
	}

	result := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		result[k] = v
	}
	for k, v := range src {
		result[k] = v
	}
	return result
}

// MergeCustomInstructions merges per field; fields left nil in patch keep the base value
func MergeCustomInstructions(base, patch *CustomInstructions) *CustomInstructions {
	if patch == nil {
		return copyCustomInstructions(base)
	}
	if base == nil {
		return copyCustomInstructions(patch)
	}

	result := copyCustomInstructions(base)
	if patch.Text != nil {
		text := *patch.Text
		result.Text = &text
	}
	if patch.Disabled != nil {
		disabled := *patch.Disabled
		result.Disabled = &disabled
	}
	return result
}

func removeKnown(c *ServerConfig, key string) bool {
	_, raw := c.Extra[key]
	delete(c.Extra, key)
	if len(c.Extra) == 0 {
		c.Extra = nil
	}
	return removeTyped(c, key) || raw
}

func removeTyped(c *ServerConfig, key string) bool {
	switch key {
	case keyCommand:
		had := c.Command != ""
		c.Command = ""
		return had
	case keyArgs:
		had := c.Args != nil
		c.Args = nil
		return had
	case keyEnv:
		had := c.Env != nil
		c.Env = nil
		return had
	case keyURL:
		had := c.URL != ""
		c.URL = ""
		return had
	case keyHeaders:
		had := c.Headers != nil
		c.Headers = nil
		return had
	case keyDisabled:
		had := c.Disabled != nil
		c.Disabled = nil
		return had
	case keyDisabledTools:
		had := c.DisabledTools != nil
		c.DisabledTools = nil
		return had
	case keyCustomInstructions:
		had := c.CustomInstructions != nil
		c.CustomInstructions = nil
		return had
	}
	return false
}

func stripNullExtras(c *ServerConfig) {
	for k, v := range c.Extra {
		if isNull(v) {
			delete(c.Extra, k)
		}
	}
	if len(c.Extra) == 0 {
		c.Extra = nil
	}
}

// Helper functions to copy configs (avoiding pointer aliasing)

func copyServerConfig(src *ServerConfig) *ServerConfig {
	if src == nil {
		return nil
	}

	dst := &ServerConfig{
		Command:            src.Command,
		URL:                src.URL,
		Args:               slices.Clone(src.Args),
		DisabledTools:      slices.Clone(src.DisabledTools),
		CustomInstructions: copyCustomInstructions(src.CustomInstructions),
	}

	if src.Disabled != nil {
		v := *src.Disabled
		dst.Disabled = &v
	}
	if src.Env != nil {
		dst.Env = make(map[string]string, len(src.Env))
		for k, v := range src.Env {
			dst.Env[k] = v
		}
	}
	if src.Headers != nil {
		dst.Headers = make(map[string]string, len(src.Headers))
		for k, v := range src.Headers {
			dst.Headers[k] = v
		}
	}
	if src.Extra != nil {
		dst.Extra = make(map[string]json.RawMessage, len(src.Extra))
		for k, v := range src.Extra {
			dst.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}

	return dst
}

func copyCustomInstructions(src *CustomInstructions) *CustomInstructions {
	if src == nil {
		return nil
	}
	dst := &CustomInstructions{}
	if src.Text != nil {
		text := *src.Text
		dst.Text = &text
	}
	if src.Disabled != nil {
		disabled := *src.Disabled
		dst.Disabled = &disabled
	}
	return dst
}
