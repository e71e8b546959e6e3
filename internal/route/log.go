// Package route records which module wrote which message path, and when.
package route

import (
	"sync"
	"time"
)

// Op is the recorded operation. Only writes are recorded today.
type Op string

const OpSet Op = "set"

// Entry is one immutable provenance record.
type Entry struct {
	Seq           int64     `json:"seq"`
	Module        string    `json:"module"`
	Path          string    `json:"path"`
	Op            Op        `json:"op"`
	Timestamp     time.Time `json:"timestamp"`
	HadPriorValue bool      `json:"had_prior_value"`
}

// Log is an append-only sequence of entries in write order.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    int64
}

func NewLog() *Log {
	return &Log{next: 1}
}

// Record appends e, assigning its sequence number, and returns the stored
// entry.
func (l *Log) Record(e Entry) Entry {
	if e.Op == "" {
		e.Op = OpSet
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next == 0 {
		l.next = 1
	}
	e.Seq = l.next
	l.next++
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of every entry, oldest first.
func (l *Log) Entries() []Entry {
	return l.filter(func(Entry) bool { return true })
}

// EntriesFor returns the entries written by module, oldest first.
func (l *Log) EntriesFor(module string) []Entry {
	return l.filter(func(e Entry) bool { return e.Module == module })
}

// EntriesForPath returns the entries that wrote exactly path, oldest first.
func (l *Log) EntriesForPath(path string) []Entry {
	return l.filter(func(e Entry) bool { return e.Path == path })
}

// HasWritten reports whether module has at least one entry.
func (l *Log) HasWritten(module string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Module == module {
			return true
		}
	}
	return false
}

// LastWriter returns the module that most recently wrote path.
func (l *Log) LastWriter(path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Path == path {
			return l.entries[i].Module, true
		}
	}
	return "", false
}

// Modules lists every module that wrote, in order of first write.
func (l *Log) Modules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, e := range l.entries {
		if _, ok := seen[e.Module]; ok {
			continue
		}
		seen[e.Module] = struct{}{}
		out = append(out, e.Module)
	}
	return out
}

func (l *Log) filter(keep func(Entry) bool) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
