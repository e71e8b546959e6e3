// Package fieldpath parses dot-delimited message addresses and navigates the
// value tree they point into.
package fieldpath

import (
	"strconv"
	"strings"
	"unicode"
)

// Segment is one step of a Path. Segments made only of digits also carry
// the list index they denote.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string { return s.Key }

// Path is a parsed address such as "images.frontend.request".
type Path struct {
	raw  string
	segs []Segment
}

// Parse validates raw and splits it into segments.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, &InvalidPathError{Path: raw, Reason: "path is empty"}
	}
	parts := strings.Split(raw, ".")
	segs := make([]Segment, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			return Path{}, &InvalidPathError{Path: raw, Reason: "empty segment at position " + strconv.Itoa(i)}
		}
		for _, r := range part {
			if !isSegmentRune(r) {
				return Path{}, &InvalidPathError{Path: raw, Reason: "invalid character " + strconv.QuoteRune(r) + " in segment " + strconv.Quote(part)}
			}
		}
		seg := Segment{Key: part}
		if idx, ok := parseIndex(part); ok {
			seg.Index = idx
			seg.IsIndex = true
		}
		segs = append(segs, seg)
	}
	return Path{raw: raw, segs: segs}, nil
}

// MustParse is Parse for paths known to be valid. It panics otherwise.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func isSegmentRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func parseIndex(s string) (int, bool) {
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p Path) String() string { return p.raw }

func (p Path) Len() int { return len(p.segs) }

func (p Path) IsZero() bool { return len(p.segs) == 0 }

// Root is the top-level field name the path addresses.
func (p Path) Root() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[0].Key
}

// IsBare reports whether the path names a top-level field directly.
func (p Path) IsBare() bool { return len(p.segs) == 1 }

// Segments returns a copy of the parsed segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// HasPrefix reports whether p equals prefix or descends from it, comparing
// whole segments.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix.segs) == 0 || len(prefix.segs) > len(p.segs) {
		return false
	}
	for i, s := range prefix.segs {
		if p.segs[i].Key != s.Key {
			return false
		}
	}
	return true
}
