package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"go.uber.org/zap"

	"mcphub-go/internal/mcperr"
)

// Store reads and rewrites the servers file. Every mutation reloads the file
// from disk so edits made outside the client are picked up, never clobbered
// from a stale in-memory copy.
type Store struct {
	path   string
	logger *zap.Logger

	mu sync.Mutex
}

// NewStore creates a store for the servers file at path
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the servers file location
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the servers file.
// Any failure is a SETUP.INVALID_CONFIG error with path, server and field details.
func (s *Store) Load() (*ServersFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		reason := "failed to read config file"
		if errors.Is(err, os.ErrNotExist) {
			reason = "config file not found"
		}
		return nil, mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeInvalidConfig, reason, err,
			map[string]any{"path": s.path})
	}

	file, err := Parse(data)
	if err != nil {
		return nil, s.invalid(err)
	}
	return file, nil
}

// Update deep-merges patch into the named entry and rewrites the file.
// A nil patch deletes the entry.
func (s *Store) Update(name string, patch *ServerConfig) (*ConfigDiff, error) {
	return s.mutate(name, func(current *ServerConfig) (*ServerConfig, *ConfigDiff, error) {
		if patch == nil {
			return nil, nil, nil
		}
		return MergeServerConfig(current, patch, DefaultMergeOptions())
	})
}

// SetServerDisabled persists the disabled flag of a server
func (s *Store) SetServerDisabled(name string, disabled bool) (*ConfigDiff, error) {
	return s.Update(name, &ServerConfig{Disabled: &disabled})
}

// SetToolDisabled adds the tool to, or removes it from, the server's disabled_tools list
func (s *Store) SetToolDisabled(name, tool string, disabled bool) (*ConfigDiff, error) {
	if tool == "" {
		return nil, mcperr.Runtime(mcperr.CodeInvalidParams, "tool name must not be empty",
			map[string]any{"server": name})
	}
	return s.mutate(name, func(current *ServerConfig) (*ServerConfig, *ConfigDiff, error) {
		var tools []string
		if current != nil {
			tools = slices.Clone(current.DisabledTools)
		}
		idx := slices.Index(tools, tool)
		switch {
		case disabled && idx < 0:
			tools = append(tools, tool)
		case !disabled && idx >= 0:
			tools = slices.Delete(tools, idx, idx+1)
		}
		if tools == nil {
			tools = []string{}
		}
		return MergeServerConfig(current, &ServerConfig{DisabledTools: tools}, DefaultMergeOptions())
	})
}

// SetCustomInstructions updates the instruction overlay. A nil text keeps the current text.
func (s *Store) SetCustomInstructions(name string, text *string, disabled bool) (*ConfigDiff, error) {
	return s.Update(name, &ServerConfig{
		CustomInstructions: &CustomInstructions{Text: text, Disabled: &disabled},
	})
}

type mutation func(current *ServerConfig) (*ServerConfig, *ConfigDiff, error)

// mutate runs read-validate-merge-write under the store lock
func (s *Store) mutate(name string, fn mutation) (*ConfigDiff, error) {
	if name == "" {
		return nil, mcperr.Runtime(mcperr.CodeInvalidParams, "server name must not be empty", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.Load()
	if err != nil {
		return nil, err
	}

	current := file.Server(name)
	next, diff, err := fn(current)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeConfigUpdate,
			fmt.Sprintf("failed to update server %q", name), err,
			map[string]any{"path": s.path, "server": name})
	}

	if next == nil {
		if current == nil {
			return NewConfigDiff(), nil
		}
		delete(file.MCPServers, name)
		diff = NewConfigDiff()
		diff.Removed = append(diff.Removed, name)
	} else {
		file.MCPServers[name] = next
	}

	if err := file.Validate(); err != nil {
		return nil, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeConfigUpdate,
			"updated config failed validation", err, s.fieldDetails(err))
	}

	if err := s.write(file); err != nil {
		return nil, mcperr.Wrap(mcperr.CategoryRuntime, mcperr.CodeConfigUpdate,
			"failed to write config file", err, map[string]any{"path": s.path, "server": name})
	}

	s.logger.Info("Updated server config",
		zap.String("path", s.path),
		zap.String("server", name),
		zap.Strings("fields", diff.Fields()))
	return diff, nil
}

// write replaces the file with a temp file renamed into place
func (s *Store) write(file *ServersFile) error {
	data, err := file.Encode()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

func (s *Store) invalid(err error) *mcperr.Error {
	return mcperr.Wrap(mcperr.CategorySetup, mcperr.CodeInvalidConfig, "invalid config file", err, s.fieldDetails(err))
}

func (s *Store) fieldDetails(err error) map[string]any {
	details := map[string]any{"path": s.path}
	var fe *FieldError
	if errors.As(err, &fe) {
		if fe.Server != "" {
			details["server"] = fe.Server
		}
		if fe.Field != "" {
			details["field"] = fe.Field
		}
		details["reason"] = fe.Reason
	}
	return details
}
