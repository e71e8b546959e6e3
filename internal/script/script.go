// Package script builds pipeline modules from compact action scripts, so
// pipelines can be declared in YAML and exercised without writing Go.
//
// A script is a list of actions separated by ';' or newlines:
//
//	set:outputs.answer=42         store a YAML value
//	copy:text.input>context.seen  copy a value between paths
//	get:context.plan              read a path (checks read permission)
//	require:context.plan          read a path, fail if absent
//	err:message                   fail
//	flaky:2                       fail with a retryable error on the first 2 invocations
//	sleep:50                      wait 50ms, honouring cancellation
//	ok                            do nothing
package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/pipeline"
	"github.com/stupiduntilnot/msgflux/internal/value"
)

type action struct {
	kind string
	arg  string
	// set and copy
	path string
	to   string
	val  value.Value
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	parts := strings.FieldsFunc(script, func(r rune) bool { return r == ';' || r == '\n' })
	actions := make([]action, 0, len(parts))
	for _, p := range parts {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid script action: %s", token)
		}
		a := action{kind: kind, arg: arg}
		switch kind {
		case "set":
			path, raw, ok := strings.Cut(arg, "=")
			if !ok || strings.TrimSpace(path) == "" {
				return nil, fmt.Errorf("invalid set action %q: want set:path=value", token)
			}
			v, err := parseValue(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid value in %q: %w", token, err)
			}
			a.path, a.val = strings.TrimSpace(path), v
		case "copy":
			from, to, ok := strings.Cut(arg, ">")
			if !ok || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				return nil, fmt.Errorf("invalid copy action %q: want copy:from>to", token)
			}
			a.path, a.to = strings.TrimSpace(from), strings.TrimSpace(to)
		case "get", "require":
			if strings.TrimSpace(arg) == "" {
				return nil, fmt.Errorf("invalid %s action %q: missing path", kind, token)
			}
			a.path = strings.TrimSpace(arg)
		case "flaky", "sleep":
			if _, err := strconv.Atoi(strings.TrimSpace(arg)); err != nil {
				return nil, fmt.Errorf("invalid %s action %q: %w", kind, token, err)
			}
		case "err":
		default:
			return nil, fmt.Errorf("invalid script action: %s", token)
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

// Module runs its actions in order on every Forward, acting as its own name.
type Module struct {
	name    string
	actions []action

	mu    sync.Mutex
	calls int
}

var _ pipeline.Module = (*Module)(nil)

func New(name, script string) (*Module, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("script module name is empty")
	}
	actions, err := parseScript(script)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", name, err)
	}
	return &Module{name: name, actions: actions}, nil
}

func (m *Module) Name() string { return m.name }

func (m *Module) Forward(ctx context.Context, msg *message.Message) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()

	for _, a := range m.actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.apply(ctx, msg, a, call); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) apply(ctx context.Context, msg *message.Message, a action, call int) error {
	switch a.kind {
	case "ok":
		return nil
	case "set":
		return msg.Set(a.path, a.val, m.name)
	case "copy":
		v, err := msg.Get(a.path, m.name)
		if err != nil {
			return err
		}
		if v.IsAbsent() {
			return fmt.Errorf("copy: %s is absent", a.path)
		}
		return msg.Set(a.to, v, m.name)
	case "get":
		_, err := msg.Get(a.path, m.name)
		return err
	case "require":
		v, err := msg.Get(a.path, m.name)
		if err != nil {
			return err
		}
		if v.IsAbsent() {
			return fmt.Errorf("required field %s is absent", a.path)
		}
		return nil
	case "err":
		return errors.New(emptyAs(a.arg, "scripted failure"))
	case "flaky":
		n, _ := strconv.Atoi(strings.TrimSpace(a.arg))
		if call <= n {
			return pipeline.Retryable(fmt.Errorf("scripted transient failure %d/%d", call, n))
		}
		return nil
	case "sleep":
		ms, _ := strconv.Atoi(strings.TrimSpace(a.arg))
		if ms <= 0 {
			return nil
		}
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	default:
		return fmt.Errorf("unknown action %s", a.kind)
	}
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
