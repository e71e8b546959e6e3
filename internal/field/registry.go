// Package field keeps the catalog of top-level message fields and the
// container kind each one was declared with.
package field

import (
	"fmt"
	"strings"
	"sync"

	"github.com/stupiduntilnot/msgflux/internal/value"
)

// Kind is the declared container shape of a top-level field.
type Kind string

const (
	KindFreeform Kind = "freeform"
	KindMap      Kind = "map"
	KindList     Kind = "list"
	KindScalar   Kind = "scalar"
)

// Default field names present on every message.
const (
	Content = "content"
	Context = "context"
	Text    = "text"
	Audios  = "audios"
	Images  = "images"
	Videos  = "videos"
	Extra   = "extra"
)

// Reserved identity names. They are readable but never declared as fields.
const (
	UserID      = "user_id"
	ChatID      = "chat_id"
	ExecutionID = "execution_id"
)

var defaults = []struct {
	name string
	kind Kind
}{
	{Content, KindFreeform},
	{Context, KindMap},
	{Text, KindMap},
	{Audios, KindMap},
	{Images, KindMap},
	{Videos, KindMap},
	{Extra, KindMap},
}

// Defaults returns the default field names in declaration order.
func Defaults() []string {
	out := make([]string, 0, len(defaults))
	for _, d := range defaults {
		out = append(out, d.name)
	}
	return out
}

// IsReserved reports whether name is one of the identity names.
func IsReserved(name string) bool {
	return name == UserID || name == ChatID || name == ExecutionID
}

// KindOf infers the field kind from a value's shape.
func KindOf(v value.Value) Kind {
	switch v.Kind() {
	case value.KindMap:
		return KindMap
	case value.KindList:
		return KindList
	default:
		return KindScalar
	}
}

// Meta describes one registered field.
type Meta struct {
	Name    string
	Kind    Kind
	Default bool
}

// Registry stores fields by unique name.
type Registry struct {
	mu     sync.RWMutex
	fields map[string]Meta
	order  []string
}

// NewRegistry returns a registry seeded with the default fields.
func NewRegistry() *Registry {
	r := &Registry{fields: map[string]Meta{}}
	for _, d := range defaults {
		r.fields[d.name] = Meta{Name: d.name, Kind: d.kind, Default: true}
		r.order = append(r.order, d.name)
	}
	return r
}

// Declare records name with the kind inferred from initial. Declaring a
// known field is a no-op and reports false.
func (r *Registry) Declare(name string, initial value.Value) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, fmt.Errorf("field name is empty")
	}
	if IsReserved(name) {
		return false, fmt.Errorf("field name is reserved: %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fields[name]; exists {
		return false, nil
	}
	r.fields[name] = Meta{Name: name, Kind: KindOf(initial)}
	r.order = append(r.order, name)
	return true, nil
}

// Redefine replaces the recorded kind of a known field. It backs an
// explicit overwrite of the bare field and is a no-op for unknown names.
// Default fields keep their Default flag; a freeform field stays freeform.
func (r *Registry) Redefine(name string, v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.fields[name]
	if !ok || meta.Kind == KindFreeform {
		return
	}
	meta.Kind = KindOf(v)
	r.fields[name] = meta
}

func (r *Registry) IsKnown(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.fields[name]
	return ok
}

func (r *Registry) IsDefault(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[name].Default
}

func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.fields[name]
	return meta.Kind, ok
}

// List returns all fields, defaults first and then in declaration order.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.fields[name])
	}
	return out
}

// Names is List reduced to field names.
func (r *Registry) Names() []string {
	metas := r.List()
	out := make([]string, 0, len(metas))
	for _, m := range metas {
		out = append(out, m.Name)
	}
	return out
}
