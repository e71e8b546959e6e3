package fieldpath

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/msgflux/internal/value"
)

// Lookup resolves p under root for reading. Missing keys, out-of-range
// indexes and non-container values in the way all yield value.Absent.
func Lookup(root *value.Map, p Path) value.Value {
	if p.IsZero() {
		return value.Absent
	}
	cur := value.MapOf(root)
	for _, seg := range p.segs {
		next, ok := child(cur, seg)
		if !ok {
			return value.Absent
		}
		cur = next
	}
	return cur
}

// Assign stores v at p under root, creating empty maps for missing
// intermediate segments, and reports whether the terminal slot already held
// a value. The terminal value is replaced, never merged. All conflicts are
// detected before the tree is touched.
func Assign(root *value.Map, p Path, v value.Value) (bool, error) {
	if p.IsZero() {
		return false, &InvalidPathError{Path: p.raw, Reason: "path is empty"}
	}
	if err := checkAssign(root, p); err != nil {
		return false, err
	}

	cur := value.MapOf(root)
	last := len(p.segs) - 1
	for _, seg := range p.segs[:last] {
		next, ok := child(cur, seg)
		if !ok {
			next = value.MapOf(nil)
			put(cur, seg, next)
		}
		cur = next
	}
	return put(cur, p.segs[last], v), nil
}

func checkAssign(root *value.Map, p Path) error {
	cur := value.MapOf(root)
	for i, seg := range p.segs {
		if cur.IsList() {
			if !seg.IsIndex {
				return conflict(p, i, fmt.Sprintf("segment %q addresses a list and must be an index", seg.Key))
			}
			if seg.Index > cur.Len() {
				return conflict(p, i, fmt.Sprintf("index %d is beyond list length %d", seg.Index, cur.Len()))
			}
		}
		if i == len(p.segs)-1 {
			return nil
		}
		next, ok := child(cur, seg)
		if !ok {
			// Everything below is created fresh.
			return nil
		}
		if !next.Kind().IsContainer() {
			return conflict(p, i+1, fmt.Sprintf("holds a %s value, not a container", next.Kind()))
		}
		cur = next
	}
	return nil
}

func child(cur value.Value, seg Segment) (value.Value, bool) {
	switch cur.Kind() {
	case value.KindMap:
		return cur.Map().Get(seg.Key)
	case value.KindList:
		if !seg.IsIndex {
			return value.Absent, false
		}
		return cur.At(seg.Index)
	default:
		return value.Absent, false
	}
}

// put writes into a container already validated by checkAssign.
func put(cur value.Value, seg Segment, v value.Value) bool {
	if cur.IsList() {
		had := seg.Index < cur.Len()
		cur.SetAt(seg.Index, v)
		return had
	}
	return cur.Map().Set(seg.Key, v)
}

func conflict(p Path, depth int, reason string) error {
	keys := make([]string, 0, depth)
	for _, s := range p.segs[:depth] {
		keys = append(keys, s.Key)
	}
	return &PathConflictError{Path: p.raw, At: strings.Join(keys, "."), Reason: reason}
}
