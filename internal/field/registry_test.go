package field

import (
	"sync"
	"testing"

	"github.com/stupiduntilnot/msgflux/internal/value"
)

func TestNewRegistry_SeedsDefaults(t *testing.T) {
	r := NewRegistry()
	for _, name := range Defaults() {
		if !r.IsKnown(name) {
			t.Fatalf("default field %s not known", name)
		}
		if !r.IsDefault(name) {
			t.Fatalf("field %s should be flagged default", name)
		}
	}
	if k, _ := r.Kind(Content); k != KindFreeform {
		t.Fatalf("content kind: got %s want %s", k, KindFreeform)
	}
	if k, _ := r.Kind(Audios); k != KindMap {
		t.Fatalf("audios kind: got %s want %s", k, KindMap)
	}
	if r.IsKnown("pdfs") {
		t.Fatal("pdfs should not be known yet")
	}
}

func TestDeclare_InfersKind(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		name string
		v    value.Value
		want Kind
	}{
		{"pdfs", value.List(), KindList},
		{"csvs", value.MapOf(nil), KindMap},
		{"score", value.Scalar(0.9), KindScalar},
	}
	for _, c := range cases {
		added, err := r.Declare(c.name, c.v)
		if err != nil {
			t.Fatalf("declare %s: %v", c.name, err)
		}
		if !added {
			t.Fatalf("expected %s to be newly declared", c.name)
		}
		if k, ok := r.Kind(c.name); !ok || k != c.want {
			t.Fatalf("kind of %s: got %s want %s", c.name, k, c.want)
		}
	}
}

func TestDeclare_ExistingIsNoop(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Declare("pdfs", value.List()); err != nil {
		t.Fatal(err)
	}
	added, err := r.Declare("pdfs", value.Scalar("file.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("second declare should be a no-op")
	}
	if k, _ := r.Kind("pdfs"); k != KindList {
		t.Fatalf("kind should stay list, got %s", k)
	}

	added, _ = r.Declare(Text, value.Scalar("x"))
	if added {
		t.Fatal("declaring a default field should be a no-op")
	}
}

func TestDeclare_Invalid(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Declare("  ", value.Scalar(1)); err == nil {
		t.Fatal("expected empty name error")
	}
	if _, err := r.Declare(ExecutionID, value.Scalar("x")); err == nil {
		t.Fatal("expected reserved name error")
	}
}

func TestRedefine(t *testing.T) {
	r := NewRegistry()
	r.Declare("pdfs", value.List())
	r.Redefine("pdfs", value.Scalar("file.pdf"))
	if k, _ := r.Kind("pdfs"); k != KindScalar {
		t.Fatalf("expected scalar after redefine, got %s", k)
	}

	r.Redefine(Content, value.MapOf(nil))
	if k, _ := r.Kind(Content); k != KindFreeform {
		t.Fatalf("content must stay freeform, got %s", k)
	}

	r.Redefine("unknown", value.Scalar(1))
	if r.IsKnown("unknown") {
		t.Fatal("redefine must not declare new fields")
	}
}

func TestNames_Order(t *testing.T) {
	r := NewRegistry()
	r.Declare("zeta", value.Scalar(1))
	r.Declare("alpha", value.Scalar(2))
	names := r.Names()
	want := append(Defaults(), "zeta", "alpha")
	if len(names) != len(want) {
		t.Fatalf("unexpected names: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d]=%s want %s (all=%v)", i, names[i], want[i], names)
		}
	}
}

func TestRegistry_ConcurrentDeclare(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	added := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := r.Declare("shared", value.Scalar(1))
			added <- ok
		}()
	}
	wg.Wait()
	close(added)

	count := 0
	for ok := range added {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful declare, got %d", count)
	}
}
