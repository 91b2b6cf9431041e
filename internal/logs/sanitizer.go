package logs

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks credentials before they are written.
// Besides well-known token formats it masks every value registered at runtime,
// such as env and header values from the servers file.
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
	secrets  *sync.Map // registered literal values to mask
}

type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
		secrets:  &sync.Map{},
	}
}

var defaultPatterns = []*secretPattern{
	{
		name:     "github_token",
		regex:    regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		maskFunc: keepPrefix(7),
	},
	{
		name:     "api_key",
		regex:    regexp.MustCompile(`\b(sk-[A-Za-z0-9\-]{20,})\b`),
		maskFunc: keepPrefix(5),
	},
	{
		name:     "aws_key",
		regex:    regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
		maskFunc: keepPrefix(8),
	},
	{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 4 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	},
	{
		name:  "jwt",
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	},
}

func keepPrefix(n int) func(string) string {
	return func(s string) string {
		if len(s) <= n {
			return "****"
		}
		return s[:n] + "***" + s[len(s)-2:]
	}
}

// RegisterResolvedSecret registers a literal value to mask. Short values are ignored.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.secrets.Store(value, true)
}

// UnregisterResolvedSecret removes a secret from the mask cache
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.secrets.Delete(value)
}

func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	s.secrets.Range(func(key, _ interface{}) bool {
		if secret, ok := key.(string); ok {
			result = strings.ReplaceAll(result, secret, maskValue(secret))
		}
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}
	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}
	return s.Core.Write(entry, sanitized)
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.sanitizeString(string(b)))
		}
	case zapcore.ReflectType, zapcore.StringerType:
		// Best effort: render complex values and keep the rendering only if something was masked
		original := fmt.Sprintf("%v", field.Interface)
		if masked := s.sanitizeString(original); masked != original {
			field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: masked}
		}
	}
	return field
}

// With creates a sanitizing child core sharing the registered secrets
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitized[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitized),
		patterns: s.patterns,
		secrets:  s.secrets,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
