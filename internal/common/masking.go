package common

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Masked replaces every redacted value.
const Masked = "***MASKED***"

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Keys        []string // attribute keys masked outright (case-insensitive)
}

// DefaultSensitivePatterns covers credentials that show up in connection settings,
// command lines and webhook URLs.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "password",
		Regex:       regexp.MustCompile(`(?i)\b(password|passwd|pwd|passphrase)(["']?\s*[:=]\s*["']?)([^"',}\]\s]+)`),
		Replacement: "${1}${2}" + Masked,
		Keys:        []string{"password", "passwd", "pwd", "passphrase"},
	},
	{
		Name:        "token",
		Regex:       regexp.MustCompile(`(?i)\b(token|webhook_token|access_token|api_key)(["']?\s*[:=]\s*["']?)([^"',}\]\s]+)`),
		Replacement: "${1}${2}" + Masked,
		Keys:        []string{"token", "webhook_token", "access_token", "api_key", "client_secret"},
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]+=*`),
		Replacement: "Bearer " + Masked,
	},
	{
		Name:        "url_userinfo",
		Regex:       regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:/@\s]+):[^@/\s]+@`),
		Replacement: "${1}:" + Masked + "@",
	},
	{
		Name:        "webhook_path",
		Regex:       regexp.MustCompile(`(/hooks/)[A-Za-z0-9]+`),
		Replacement: "${1}" + Masked,
	},
	{
		Name:        "private_key",
		Regex:       regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: Masked,
		Keys:        []string{"private_key", "pkey"},
	},
}

// Masker redacts secrets from log output. Besides patterns it redacts literal
// secret values registered with AddSecret, e.g. connection passwords.
type Masker struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
	secrets  []string
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{patterns: DefaultSensitivePatterns, enabled: true}
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// AddSecret registers a literal value that must never be logged.
// Very short values are ignored to avoid redacting unrelated text.
func (m *Masker) AddSecret(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 4 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.secrets {
		if s == secret {
			return
		}
	}
	m.secrets = append(m.secrets, secret)
	// longest first so overlapping secrets are fully covered
	sort.Slice(m.secrets, func(i, j int) bool { return len(m.secrets[i]) > len(m.secrets[j]) })
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled || input == "" {
		return input
	}
	result := input
	for _, s := range m.secrets {
		result = strings.ReplaceAll(result, s, Masked)
	}
	for _, p := range m.patterns {
		result = p.Regex.ReplaceAllString(result, p.Replacement)
	}
	return result
}

// IsSensitiveKey reports whether an attribute key is always masked.
func (m *Masker) IsSensitiveKey(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return false
	}
	lower := strings.ToLower(key)
	for _, p := range m.patterns {
		for _, k := range p.Keys {
			if lower == k {
				return true
			}
		}
	}
	return false
}

var globalMasker = NewMasker()

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// RegisterSecret adds a literal secret to the global masker.
func RegisterSecret(secret string) {
	globalMasker.AddSecret(secret)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

type maskedError struct {
	msg string
	err error
}

func (e *maskedError) Error() string { return e.msg }
func (e *maskedError) Unwrap() error { return e.err }

// MaskErr returns err with its message masked. The original stays reachable
// through errors.Is and errors.As.
func MaskErr(err error) error {
	if err == nil {
		return nil
	}
	msg := MaskSensitiveData(err.Error())
	if msg == err.Error() {
		return err
	}
	return &maskedError{msg: msg, err: err}
}
