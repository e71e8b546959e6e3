// Package pipeline routes a message through named modules in sequential and
// fan-out stages.
package pipeline

import (
	"context"

	"github.com/stupiduntilnot/msgflux/internal/message"
)

// Module is one processing step. Name is the identity the module uses for
// every Set and Get on the message.
type Module interface {
	Name() string
	Forward(ctx context.Context, msg *message.Message) error
}

type funcModule struct {
	name string
	fn   func(ctx context.Context, msg *message.Message) error
}

// Func adapts a function to Module.
func Func(name string, fn func(ctx context.Context, msg *message.Message) error) Module {
	return funcModule{name: name, fn: fn}
}

func (m funcModule) Name() string { return m.name }

func (m funcModule) Forward(ctx context.Context, msg *message.Message) error {
	return m.fn(ctx, msg)
}
