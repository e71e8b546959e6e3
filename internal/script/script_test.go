package script

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/permission"
	"github.com/stupiduntilnot/msgflux/internal/pipeline"
)

func newMsg(t *testing.T) *message.Message {
	t.Helper()
	msg, err := message.New()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestNew_InvalidScript(t *testing.T) {
	cases := []string{
		"boom",
		"set:outputs.x",
		"set:=1",
		"copy:context.a",
		"get:",
		"sleep:soon",
		"flaky:x",
		"launch:rockets",
		"set:outputs.x=[unclosed",
	}
	for _, c := range cases {
		if _, err := New("m", c); err == nil {
			t.Fatalf("expected parse error for %q", c)
		}
	}
	if _, err := New(" ", "ok"); err == nil {
		t.Fatal("expected error for empty module name")
	}
}

func TestModule_SetParsesYAMLValues(t *testing.T) {
	m, err := New("writer", "set:outputs.n=42; set:outputs.list=[a, b]\nset:outputs.map={k: v}; set:outputs.s=hello world")
	if err != nil {
		t.Fatal(err)
	}
	msg := newMsg(t)
	if err := m.Forward(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	n, _ := msg.Get("outputs.n", "reader")
	if n.Raw() != 42 {
		t.Fatalf("expected 42, got %#v", n.Raw())
	}
	list, _ := msg.Get("outputs.list", "reader")
	if !list.IsList() || list.Len() != 2 {
		t.Fatalf("expected 2-item list, got %#v", list.Interface())
	}
	k, _ := msg.Get("outputs.map.k", "reader")
	if k.Raw() != "v" {
		t.Fatalf("expected v, got %#v", k.Raw())
	}
	s, _ := msg.Get("outputs.s", "reader")
	if s.Raw() != "hello world" {
		t.Fatalf("expected hello world, got %#v", s.Raw())
	}
}

func TestModule_SetKeepsMappingOrder(t *testing.T) {
	m, err := New("writer", "set:outputs.map={z: 1, a: {y: 2, b: &n 3}, m: *n}")
	if err != nil {
		t.Fatal(err)
	}
	msg := newMsg(t)
	if err := m.Forward(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	got, _ := msg.Get("outputs.map", "reader")
	if keys := strings.Join(got.Map().Keys(), ","); keys != "z,a,m" {
		t.Fatalf("expected document key order, got %s", keys)
	}
	inner, _ := msg.Get("outputs.map.a", "reader")
	if keys := strings.Join(inner.Map().Keys(), ","); keys != "y,b" {
		t.Fatalf("expected nested key order, got %s", keys)
	}
	alias, _ := msg.Get("outputs.map.m", "reader")
	if alias.Raw() != 3 {
		t.Fatalf("expected alias to resolve to 3, got %#v", alias.Raw())
	}
}

func TestModule_CopyAndRequire(t *testing.T) {
	msg, err := message.New(message.WithText(map[string]any{"input": "hi"}))
	if err != nil {
		t.Fatal(err)
	}
	m, err := New("echo", "require:text.input;copy:text.input>outputs.echo")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Forward(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	got, _ := msg.Get("outputs.echo", "reader")
	if got.Raw() != "hi" {
		t.Fatalf("expected hi, got %#v", got.Raw())
	}

	missing, _ := New("needy", "require:context.plan")
	if err := missing.Forward(context.Background(), msg); err == nil {
		t.Fatal("expected error for absent required field")
	}
	badCopy, _ := New("copier", "copy:context.nothing>outputs.x")
	if err := badCopy.Forward(context.Background(), msg); err == nil {
		t.Fatal("expected error copying an absent field")
	}
}

func TestModule_PermissionDenied(t *testing.T) {
	m, err := New("intruder", "set:text.input=forged")
	if err != nil {
		t.Fatal(err)
	}
	err = m.Forward(context.Background(), newMsg(t))
	if !errors.Is(err, permission.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestModule_ErrAndFlaky(t *testing.T) {
	m, _ := New("failing", "err:upstream down")
	err := m.Forward(context.Background(), newMsg(t))
	if err == nil || err.Error() != "upstream down" {
		t.Fatalf("expected upstream down, got %v", err)
	}

	f, _ := New("flaky", "flaky:2;set:outputs.ok=true")
	msg := newMsg(t)
	for i := 1; i <= 2; i++ {
		err := f.Forward(context.Background(), msg)
		if !pipeline.IsRetryable(err) {
			t.Fatalf("call %d: expected retryable error, got %v", i, err)
		}
	}
	if err := f.Forward(context.Background(), msg); err != nil {
		t.Fatalf("third call should succeed, got %v", err)
	}
	if !msg.InMsg("flaky") {
		t.Fatal("expected flaky to have written")
	}
}

func TestModule_SleepHonoursCancellation(t *testing.T) {
	m, _ := New("sleeper", "sleep:5000")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Forward(ctx, newMsg(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("sleep ignored cancellation")
	}
}

func TestModule_EmptyScriptIsOK(t *testing.T) {
	m, err := New("idle", "  ")
	if err != nil {
		t.Fatal(err)
	}
	msg := newMsg(t)
	if err := m.Forward(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if msg.InMsg("idle") {
		t.Fatal("idle module should not write")
	}
}
