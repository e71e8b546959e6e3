package route

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Log {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewLog()
	l.Record(Entry{Module: "moduleA", Path: "context.a", Timestamp: base})
	l.Record(Entry{Module: "moduleB", Path: "outputs.b", Timestamp: base.Add(time.Second)})
	l.Record(Entry{Module: "moduleA", Path: "context.a", Timestamp: base.Add(2 * time.Second), HadPriorValue: true})
	return l
}

func TestRecord_AssignsSeqAndOp(t *testing.T) {
	l := NewLog()
	e := l.Record(Entry{Module: "m", Path: "context"})
	assert.Equal(t, int64(1), e.Seq)
	assert.Equal(t, OpSet, e.Op)
	e = l.Record(Entry{Module: "m", Path: "context"})
	assert.Equal(t, int64(2), e.Seq)

	var zero Log
	assert.Equal(t, int64(1), zero.Record(Entry{Module: "m"}).Seq)
}

func TestEntriesFor_Chronological(t *testing.T) {
	l := seeded(t)
	got := l.EntriesFor("moduleA")
	require.Len(t, got, 2)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := []Entry{
		{Seq: 1, Module: "moduleA", Path: "context.a", Op: OpSet, Timestamp: base},
		{Seq: 3, Module: "moduleA", Path: "context.a", Op: OpSet, Timestamp: base.Add(2 * time.Second), HadPriorValue: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("EntriesFor mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, l.EntriesFor("nobody"))
}

func TestEntriesForPath_AndLastWriter(t *testing.T) {
	l := seeded(t)
	assert.Len(t, l.EntriesForPath("context.a"), 2)
	assert.Len(t, l.EntriesForPath("outputs.b"), 1)
	assert.Empty(t, l.EntriesForPath("context"))

	w, ok := l.LastWriter("outputs.b")
	assert.True(t, ok)
	assert.Equal(t, "moduleB", w)
	_, ok = l.LastWriter("missing")
	assert.False(t, ok)
}

func TestHasWrittenAndModules(t *testing.T) {
	l := seeded(t)
	assert.True(t, l.HasWritten("moduleA"))
	assert.False(t, l.HasWritten("moduleC"))
	assert.Equal(t, []string{"moduleA", "moduleB"}, l.Modules())
	assert.Equal(t, 3, l.Len())
}

func TestEntries_ReturnsCopy(t *testing.T) {
	l := seeded(t)
	got := l.Entries()
	got[0].Module = "tampered"
	assert.Equal(t, "moduleA", l.Entries()[0].Module)
}

func TestRecord_Concurrent(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(Entry{Module: "m", Path: "context"})
		}()
	}
	wg.Wait()

	entries := l.Entries()
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}
