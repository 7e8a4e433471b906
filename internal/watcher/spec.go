package watcher

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/opshooks/pkg/task"
)

// Kind tags a watcher description.
type Kind string

const (
	KindSudoPassword    Kind = "sudo_password"
	KindGenericPassword Kind = "generic_password"
	KindUnknownHostKey  Kind = "unknown_host_key"
	KindResponder       Kind = "responder"
)

// Spec is a serializable watcher description. Only the kinds above exist;
// Pattern, Response and Sentinel apply to KindResponder.
type Spec struct {
	Type     Kind   `yaml:"type" mapstructure:"type"`
	Pattern  string `yaml:"pattern" mapstructure:"pattern"`
	Response string `yaml:"response" mapstructure:"response"`
	Sentinel string `yaml:"sentinel" mapstructure:"sentinel"`
}

// Custom describes a plain pattern/response watcher.
func Custom(pattern, response string) Spec {
	return Spec{Type: KindResponder, Pattern: pattern, Response: response}
}

// SpecFromMap decodes a watcher description from a generic mapping.
func SpecFromMap(m map[string]any) (Spec, error) {
	var s Spec
	if err := mapstructure.Decode(m, &s); err != nil {
		return Spec{}, &task.ConfigurationError{Msg: "invalid watcher description", Err: err}
	}
	return s, nil
}

// Build instantiates the watcher. password is the connection password used by
// the password prompt kinds. An empty Type means KindResponder.
func (s Spec) Build(password string) (Watcher, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(string(s.Type))))
	if kind == "" {
		kind = KindResponder
	}
	switch kind {
	case KindSudoPassword:
		return SudoPassword(password)
	case KindGenericPassword:
		return GenericPassword(password)
	case KindUnknownHostKey:
		return UnknownHostKey(), nil
	case KindResponder:
		if s.Pattern == "" {
			return nil, task.Configf("responder watcher requires a pattern")
		}
		if s.Sentinel != "" {
			f, err := NewFailingResponder(s.Pattern, s.Response, s.Sentinel)
			if err != nil {
				return nil, &task.ConfigurationError{Msg: "invalid responder watcher", Err: err}
			}
			return f, nil
		}
		r, err := NewResponder(s.Pattern, s.Response)
		if err != nil {
			return nil, &task.ConfigurationError{Msg: "invalid responder watcher", Err: err}
		}
		return r, nil
	default:
		return nil, task.Configf("unknown watcher type %q", s.Type)
	}
}

// BuildAll instantiates every spec in order.
func BuildAll(specs []Spec, password string) ([]Watcher, error) {
	out := make([]Watcher, 0, len(specs))
	for i, s := range specs {
		w, err := s.Build(password)
		if err != nil {
			return nil, fmt.Errorf("watcher %d: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}
