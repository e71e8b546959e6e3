// Package permission decides which module may read or write which message
// paths.
package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stupiduntilnot/msgflux/internal/fieldpath"
)

// Mode is the kind of access being authorized.
type Mode string

const (
	Read  Mode = "read"
	Write Mode = "write"
)

// Wildcard authorizes every path.
const Wildcard = "*"

// Rule lists the path prefixes a module may read and write.
type Rule struct {
	Read  []string `yaml:"read" json:"read"`
	Write []string `yaml:"write" json:"write"`
}

// DefaultRule applies to modules without an explicit entry: read anything,
// write only the conventional output fields.
func DefaultRule() Rule {
	return Rule{
		Read:  []string{Wildcard},
		Write: []string{"context", "outputs", "response"},
	}
}

// Table maps module identity to its rule.
type Table map[string]Rule

type prefixSet struct {
	all      bool
	prefixes []fieldpath.Path
}

func compileSet(entries []string) (prefixSet, error) {
	var set prefixSet
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == Wildcard {
			set.all = true
			continue
		}
		p, err := fieldpath.Parse(raw)
		if err != nil {
			return prefixSet{}, err
		}
		set.prefixes = append(set.prefixes, p)
	}
	return set, nil
}

func (s prefixSet) allows(p fieldpath.Path) bool {
	if s.all {
		return true
	}
	for _, prefix := range s.prefixes {
		if p.HasPrefix(prefix) {
			return true
		}
	}
	return false
}

type compiledRule struct {
	read  prefixSet
	write prefixSet
}

func compileRule(r Rule) (compiledRule, error) {
	read, err := compileSet(r.Read)
	if err != nil {
		return compiledRule{}, fmt.Errorf("read: %w", err)
	}
	write, err := compileSet(r.Write)
	if err != nil {
		return compiledRule{}, fmt.Errorf("write: %w", err)
	}
	return compiledRule{read: read, write: write}, nil
}

// Guard enforces a permission table. It is immutable after construction and
// safe to share between messages.
type Guard struct {
	rules    map[string]compiledRule
	defaults compiledRule
	table    Table
	fallback Rule
}

// NewGuard compiles table and the default rule used for unlisted modules.
func NewGuard(table Table, defaults Rule) (*Guard, error) {
	fallback, err := compileRule(defaults)
	if err != nil {
		return nil, fmt.Errorf("default rule: %w", err)
	}
	g := &Guard{
		rules:    make(map[string]compiledRule, len(table)),
		defaults: fallback,
		table:    make(Table, len(table)),
		fallback: defaults,
	}
	for module, rule := range table {
		module = strings.TrimSpace(module)
		if module == "" {
			return nil, fmt.Errorf("permission table has an empty module name")
		}
		compiled, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", module, err)
		}
		g.rules[module] = compiled
		g.table[module] = rule
	}
	return g, nil
}

// DefaultGuard has no explicit entries and applies DefaultRule to everyone.
func DefaultGuard() *Guard {
	g, err := NewGuard(nil, DefaultRule())
	if err != nil {
		panic(err)
	}
	return g
}

// Allowed reports whether module may access p in the given mode.
func (g *Guard) Allowed(module string, p fieldpath.Path, mode Mode) bool {
	if strings.TrimSpace(module) == "" || p.IsZero() {
		return false
	}
	rule, ok := g.rules[module]
	if !ok {
		rule = g.defaults
	}
	switch mode {
	case Read:
		return rule.read.allows(p)
	case Write:
		return rule.write.allows(p)
	default:
		return false
	}
}

// Authorize is Allowed returning a *PermissionDeniedError on refusal.
func (g *Guard) Authorize(module string, p fieldpath.Path, mode Mode) error {
	if g.Allowed(module, p, mode) {
		return nil
	}
	return &PermissionDeniedError{Module: module, Path: p.String(), Mode: mode}
}

// RuleFor returns the configured rule for module and whether it is explicit.
func (g *Guard) RuleFor(module string) (Rule, bool) {
	if r, ok := g.table[module]; ok {
		return r, true
	}
	return g.fallback, false
}

// Modules lists the modules with explicit entries, sorted.
func (g *Guard) Modules() []string {
	out := make([]string, 0, len(g.table))
	for name := range g.table {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParsePrefixes splits a comma separated prefix list, dropping blanks.
func ParsePrefixes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		item := strings.TrimSpace(p)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
