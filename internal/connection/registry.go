package connection

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/pkg/task"
)

// Resolver looks up stored connection settings by identifier.
type Resolver interface {
	Resolve(id string) (Settings, error)
}

// Registry is an in-memory Resolver.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Settings
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]Settings{}}
}

// Add stores s under s.ID, replacing any previous entry.
func (r *Registry) Add(s Settings) error {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return task.Configf("connection id is required")
	}
	s.ID = id
	r.mu.Lock()
	r.conns[id] = s
	r.mu.Unlock()
	return nil
}

// AddMaps decodes and adds each mapping.
func (r *Registry) AddMaps(items []map[string]any) error {
	for _, m := range items {
		s, err := FromMap(m)
		if err != nil {
			return err
		}
		if err := r.Add(s); err != nil {
			return err
		}
	}
	return nil
}

// LoadEnv adds a connection for every <prefix>_CONN_<ID>=<uri> environment variable.
// IDs are lower-cased. Returns the number of connections added.
func (r *Registry) LoadEnv(prefix string) (int, error) {
	marker := strings.ToUpper(prefix) + "_CONN_"
	n := 0
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, marker) || value == "" {
			continue
		}
		id := strings.ToLower(strings.TrimPrefix(name, marker))
		s, err := FromURI(id, value)
		if err != nil {
			return n, err
		}
		if err := r.Add(s); err != nil {
			return n, err
		}
		common.LogDebug("loaded connection from environment", "conn_id", id, "variable", name)
		n++
	}
	return n, nil
}

// Resolve returns the settings stored under id.
func (r *Registry) Resolve(id string) (Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.conns[strings.TrimSpace(id)]
	if !ok {
		return Settings{}, task.Configf("connection %q is not defined", id)
	}
	out := s
	out.Extra = make(map[string]any, len(s.Extra))
	for k, v := range s.Extra {
		out.Extra[k] = v
	}
	return out, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
