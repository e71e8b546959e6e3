// Package message implements the envelope modules pass along a pipeline.
//
// A Message holds a tree of fields addressed by dot paths such as
// "images.frontend.request". Every Set and Get names the calling module;
// access is checked against a permission.Guard and every successful Set is
// appended to the route log, so the pipeline can tell afterwards which
// module produced which field.
//
// A Message serializes its own operations with a mutex, so modules running
// in parallel stages may share one instance.
package message

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/msgflux/internal/field"
	"github.com/stupiduntilnot/msgflux/internal/fieldpath"
	"github.com/stupiduntilnot/msgflux/internal/idgen"
	"github.com/stupiduntilnot/msgflux/internal/permission"
	"github.com/stupiduntilnot/msgflux/internal/route"
	"github.com/stupiduntilnot/msgflux/internal/value"
)

var defaultGuard = permission.DefaultGuard()

type Message struct {
	mu sync.Mutex

	userID      string
	chatID      string
	executionID string
	createdAt   time.Time

	data     *value.Map
	fields   *field.Registry
	guard    *permission.Guard
	route    *route.Log
	now      func() time.Time
	logger   zerolog.Logger
	observer Observer
}

// New builds a message. Missing user and chat ids are generated; the
// execution id is always generated.
func New(opts ...Option) (*Message, error) {
	o := options{
		guard:    defaultGuard,
		ids:      idgen.UUID{},
		now:      time.Now,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.guard == nil {
		o.guard = defaultGuard
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.userID == "" {
		o.userID = o.ids.New()
	}
	if o.chatID == "" {
		o.chatID = o.ids.New()
	}

	m := &Message{
		userID:      o.userID,
		chatID:      o.chatID,
		executionID: o.ids.New(),
		createdAt:   o.now(),
		data:        value.NewMap(),
		fields:      field.NewRegistry(),
		guard:       o.guard,
		route:       route.NewLog(),
		now:         o.now,
		observer:    o.observer,
	}
	m.logger = o.logger.With().Str("execution_id", m.executionID).Logger()

	for _, name := range field.Defaults() {
		if k, _ := m.fields.Kind(name); k == field.KindMap {
			m.data.Set(name, value.MapOf(nil))
		}
	}
	for _, init := range o.initial {
		if err := m.seed(init.name, value.From(init.value)); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Message) seed(name string, v value.Value) error {
	p, err := fieldpath.Parse(name)
	if err != nil {
		return fmt.Errorf("initial field: %w", err)
	}
	if !p.IsBare() {
		return fmt.Errorf("initial field %q must be a top-level name", name)
	}
	if field.IsReserved(name) {
		return fmt.Errorf("initial field %q is reserved; use the id options", name)
	}
	if k, ok := m.fields.Kind(name); ok && k == field.KindMap && m.fields.IsDefault(name) && !v.IsMap() {
		return fmt.Errorf("initial value for %s must be a mapping, got %s", name, v.Kind())
	}
	if m.fields.IsKnown(name) {
		m.fields.Redefine(name, v)
	} else if _, err := m.fields.Declare(name, v); err != nil {
		return err
	}
	m.data.Set(name, v.Clone())
	return nil
}

// nestMu serializes writes that store messages inside messages, so two
// concurrent writes cannot close a cycle between them.
var nestMu sync.Mutex

// nestedMessages appends the messages stored anywhere in v to out. Other
// envelope types are opaque and skipped.
func nestedMessages(v value.Value, out []*Message) []*Message {
	switch {
	case v.IsEnvelope():
		if nm, ok := v.Envelope().(*Message); ok && nm != nil {
			out = append(out, nm)
		}
	case v.IsMap():
		v.Map().Range(func(_ string, c value.Value) bool {
			out = nestedMessages(c, out)
			return true
		})
	case v.IsList():
		for _, c := range v.Items() {
			out = nestedMessages(c, out)
		}
	}
	return out
}

// reachableFrom reports whether m is one of msgs or is nested, at any depth,
// inside one of them. The caller holds m.mu; m itself is never locked here.
func (m *Message) reachableFrom(msgs []*Message) bool {
	seen := map[*Message]bool{}
	queue := msgs
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if n == m {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		n.mu.Lock()
		queue = nestedMessages(value.MapOf(n.data), queue)
		n.mu.Unlock()
	}
	return false
}

func (m *Message) UserID() string       { return m.userID }
func (m *Message) ChatID() string       { return m.chatID }
func (m *Message) ExecutionID() string  { return m.executionID }
func (m *Message) CreatedAt() time.Time { return m.createdAt }

// Set stores v at path on behalf of module as. The value at that exact path
// is replaced, not merged. Intermediate mappings are created as needed.
func (m *Message) Set(path string, v any, as string) error {
	p, err := fieldpath.Parse(path)
	if err != nil {
		return err
	}
	root := p.Root()
	if field.IsReserved(root) {
		return &fieldpath.PathConflictError{Path: path, At: root, Reason: "identity fields are read-only"}
	}

	val := value.From(v)
	if val.IsAbsent() {
		val = value.Scalar(nil)
	}
	val = val.Clone()
	nested := nestedMessages(val, nil)
	if len(nested) > 0 {
		nestMu.Lock()
		defer nestMu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard.Authorize(as, p, permission.Write); err != nil {
		m.denied(as, p, permission.Write)
		return err
	}
	if m.reachableFrom(nested) {
		return &fieldpath.PathConflictError{Path: path, Reason: "a message cannot contain itself"}
	}

	known := m.fields.IsKnown(root)
	had, err := fieldpath.Assign(m.data, p, val)
	if err != nil {
		return err
	}
	if !known {
		stored, _ := m.data.Get(root)
		if _, err := m.fields.Declare(root, stored); err != nil {
			return err
		}
	} else if p.IsBare() {
		m.fields.Redefine(root, val)
	}

	entry := m.route.Record(route.Entry{
		Module:        as,
		Path:          p.String(),
		Op:            route.OpSet,
		Timestamp:     m.now(),
		HadPriorValue: had,
	})
	m.observer.ObserveSet(as, root)
	m.logger.Debug().
		Str("module", as).
		Str("path", entry.Path).
		Int64("seq", entry.Seq).
		Bool("had_prior_value", had).
		Msg("field set")
	return nil
}

// Get returns the value at path on behalf of module as. A path that does not
// resolve yields value.Absent and no error. Containers are returned as deep
// copies; changing them does not affect the message.
func (m *Message) Get(path string, as string) (value.Value, error) {
	p, err := fieldpath.Parse(path)
	if err != nil {
		return value.Absent, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guard.Authorize(as, p, permission.Read); err != nil {
		m.denied(as, p, permission.Read)
		return value.Absent, err
	}

	var got value.Value
	if field.IsReserved(p.Root()) {
		if p.IsBare() {
			got = value.Scalar(m.identity(p.Root()))
		}
	} else {
		got = fieldpath.Lookup(m.data, p).Clone()
	}
	m.observer.ObserveGet(as, p.Root(), !got.IsAbsent())
	return got, nil
}

func (m *Message) identity(name string) string {
	switch name {
	case field.UserID:
		return m.userID
	case field.ChatID:
		return m.chatID
	default:
		return m.executionID
	}
}

func (m *Message) denied(module string, p fieldpath.Path, mode permission.Mode) {
	m.observer.ObserveDenied(module, p.Root(), mode)
	m.logger.Warn().
		Str("module", module).
		Str("path", p.String()).
		Str("mode", string(mode)).
		Msg("access denied")
}

// GetRoute returns the route entries of module in write order, or every
// entry when module is empty.
func (m *Message) GetRoute(module string) []route.Entry {
	if module == "" {
		return m.route.Entries()
	}
	return m.route.EntriesFor(module)
}

// InMsg reports whether module has written to the message.
func (m *Message) InMsg(module string) bool {
	return m.route.HasWritten(module)
}

// PathHistory returns the entries that wrote exactly path, oldest first.
func (m *Message) PathHistory(path string) []route.Entry {
	return m.route.EntriesForPath(path)
}

// LastWriter returns the module that most recently wrote path.
func (m *Message) LastWriter(path string) (string, bool) {
	return m.route.LastWriter(path)
}

// Fields lists the declared top-level fields.
func (m *Message) Fields() []field.Meta {
	return m.fields.List()
}

// Snapshot deep-copies the field tree without permission checks. It is meant
// for the pipeline executor and exporters, not for modules.
func (m *Message) Snapshot() *value.Map {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// MarshalJSON writes the identity ids followed by every field.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := value.NewMap()
	out.Set(field.ExecutionID, value.Scalar(m.executionID))
	out.Set(field.UserID, value.Scalar(m.userID))
	out.Set(field.ChatID, value.Scalar(m.chatID))
	m.Snapshot().Range(func(k string, v value.Value) bool {
		out.Set(k, v)
		return true
	})
	return out.MarshalJSON()
}

var _ value.Envelope = (*Message)(nil)
