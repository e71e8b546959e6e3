// Package value implements the tagged value tree stored inside a message.
package value

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindScalar
	KindMap
	KindList
	KindEnvelope
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindScalar:
		return "scalar"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindEnvelope:
		return "envelope"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsContainer reports whether path segments may descend into values of this kind.
func (k Kind) IsContainer() bool {
	return k == KindMap || k == KindList
}

// Envelope is implemented by values that carry their own access rules, such
// as a nested message. Paths never descend into an envelope.
type Envelope interface {
	ExecutionID() string
}

// Value is one node of the tree. The zero Value is absent.
type Value struct {
	kind     Kind
	scalar   any
	m        *Map
	seq      *seq
	envelope Envelope
}

type seq struct {
	items []Value
}

// Absent is the sentinel returned when a path does not resolve.
var Absent = Value{}

func Scalar(v any) Value { return Value{kind: KindScalar, scalar: v} }

func MapOf(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, seq: &seq{items: items}}
}

func EnvelopeOf(e Envelope) Value { return Value{kind: KindEnvelope, envelope: e} }

// From converts a plain Go value into a Value. Maps become ordered maps with
// keys sorted (Go maps carry no order), slices and arrays become lists, and
// anything else is a scalar. A Value or *Map is used as is.
func From(v any) Value {
	switch t := v.(type) {
	case Value:
		return t
	case *Map:
		return MapOf(t)
	case Envelope:
		return EnvelopeOf(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, From(t[k]))
		}
		return MapOf(m)
	case []any:
		items := make([]Value, 0, len(t))
		for _, it := range t {
			items = append(items, From(it))
		}
		return List(items...)
	case []string:
		items := make([]Value, 0, len(t))
		for _, it := range t {
			items = append(items, Scalar(it))
		}
		return List(items...)
	case nil:
		return Scalar(nil)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Scalar(v)
		}
		children := make(map[string]any, rv.Len())
		keys := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			keys = append(keys, k)
			children[k] = iter.Value().Interface()
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, From(children[k]))
		}
		return MapOf(m)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return Scalar(v)
		}
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, From(rv.Index(i).Interface()))
		}
		return List(items...)
	}
	return Scalar(v)
}

// KindOf reports the kind From would assign to v.
func KindOf(v any) Kind {
	return From(v).Kind()
}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsAbsent() bool   { return v.kind == KindAbsent }
func (v Value) IsScalar() bool   { return v.kind == KindScalar }
func (v Value) IsMap() bool      { return v.kind == KindMap }
func (v Value) IsList() bool     { return v.kind == KindList }
func (v Value) IsEnvelope() bool { return v.kind == KindEnvelope }

// Raw returns the scalar payload, or nil for other kinds.
func (v Value) Raw() any {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// AsString returns the scalar as a string when it is one.
func (v Value) AsString() (string, bool) {
	s, ok := v.Raw().(string)
	return s, ok
}

// Map returns the underlying ordered map, or nil for other kinds.
func (v Value) Map() *Map {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// Items returns a copy of the list elements, or nil for other kinds.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.seq.items))
	copy(out, v.seq.items)
	return out
}

// At returns the list element at i.
func (v Value) At(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.seq.items) {
		return Absent, false
	}
	return v.seq.items[i], true
}

// SetAt replaces the element at i, or appends when i equals the length.
// It reports false when v is not a list or i is out of range.
func (v Value) SetAt(i int, x Value) bool {
	if v.kind != KindList || i < 0 || i > len(v.seq.items) {
		return false
	}
	if i == len(v.seq.items) {
		v.seq.items = append(v.seq.items, x)
		return true
	}
	v.seq.items[i] = x
	return true
}

func (v Value) Len() int {
	switch v.kind {
	case KindMap:
		return v.m.Len()
	case KindList:
		return len(v.seq.items)
	default:
		return 0
	}
}

func (v Value) Envelope() Envelope {
	if v.kind != KindEnvelope {
		return nil
	}
	return v.envelope
}

// Clone deep-copies containers. Scalars and envelopes are shared.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return MapOf(v.m.Clone())
	case KindList:
		items := make([]Value, len(v.seq.items))
		for i, it := range v.seq.items {
			items[i] = it.Clone()
		}
		return List(items...)
	default:
		return v
	}
}

// Interface converts the tree back to plain Go values: *Map becomes
// map[string]any, lists become []any. Envelopes are returned as is and
// absent becomes nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(k string, child Value) bool {
			out[k] = child.Interface()
			return true
		})
		return out
	case KindList:
		out := make([]any, len(v.seq.items))
		for i, it := range v.seq.items {
			out[i] = it.Interface()
		}
		return out
	case KindEnvelope:
		return v.envelope
	default:
		return nil
	}
}

// Equal compares two trees structurally. Map key order is significant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindScalar:
		return reflect.DeepEqual(v.scalar, o.scalar)
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.seq.items) != len(o.seq.items) {
			return false
		}
		for i := range v.seq.items {
			if !v.seq.items[i].Equal(o.seq.items[i]) {
				return false
			}
		}
		return true
	case KindEnvelope:
		return v.envelope == o.envelope
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMap:
		return v.m.MarshalJSON()
	case KindList:
		return json.Marshal(v.seq.items)
	case KindEnvelope:
		if m, ok := v.envelope.(json.Marshaler); ok {
			return m.MarshalJSON()
		}
		return json.Marshal(map[string]string{"execution_id": v.envelope.ExecutionID()})
	case KindScalar:
		return json.Marshal(v.scalar)
	default:
		return []byte("null"), nil
	}
}
