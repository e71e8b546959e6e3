package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stupiduntilnot/msgflux/internal/message"
)

// Registry stores modules by unique name.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{
		modules: map[string]Module{},
	}
}

func (r *Registry) Register(m Module) error {
	if m == nil {
		return fmt.Errorf("module is nil")
	}
	name := strings.TrimSpace(m.Name())
	if name == "" {
		return fmt.Errorf("module name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module already registered: %s", name)
	}
	r.modules[name] = m
	return nil
}

func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	return m, ok
}

// Names lists registered module names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up every name, failing on the first unknown one.
func (r *Registry) Resolve(names ...string) ([]Module, error) {
	out := make([]Module, 0, len(names))
	for _, name := range names {
		m, ok := r.Get(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("validation: unknown module: %s", name)
		}
		out = append(out, m)
	}
	return out, nil
}

// RunOne forwards msg through a single registered module, outside any
// pipeline policy.
func (r *Registry) RunOne(ctx context.Context, name string, msg *message.Message) error {
	if r == nil {
		return fmt.Errorf("module registry is not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("validation: empty module name")
	}
	m, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("validation: unknown module: %s", name)
	}
	if msg == nil {
		return fmt.Errorf("validation: nil message")
	}
	return forward(ctx, m, msg)
}
