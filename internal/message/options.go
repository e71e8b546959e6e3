package message

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/msgflux/internal/field"
	"github.com/stupiduntilnot/msgflux/internal/idgen"
	"github.com/stupiduntilnot/msgflux/internal/permission"
)

// Observer receives access outcomes, typically to feed metrics. Field is the
// top-level field name, not the full path, to keep cardinality bounded.
type Observer interface {
	ObserveSet(module, field string)
	ObserveGet(module, field string, found bool)
	ObserveDenied(module, field string, mode permission.Mode)
}

type nopObserver struct{}

func (nopObserver) ObserveSet(string, string)                     {}
func (nopObserver) ObserveGet(string, string, bool)               {}
func (nopObserver) ObserveDenied(string, string, permission.Mode) {}

type initialField struct {
	name  string
	value any
}

type options struct {
	userID   string
	chatID   string
	initial  []initialField
	guard    *permission.Guard
	ids      idgen.Generator
	now      func() time.Time
	logger   zerolog.Logger
	observer Observer
}

// Option configures New.
type Option func(*options)

// WithUserID sets the user id instead of generating one.
func WithUserID(id string) Option {
	return func(o *options) { o.userID = id }
}

// WithChatID sets the chat id instead of generating one.
func WithChatID(id string) Option {
	return func(o *options) { o.chatID = id }
}

// WithField seeds a top-level field. Mapping default fields (context, text,
// audios, images, videos, extra) only accept mapping values.
func WithField(name string, v any) Option {
	return func(o *options) { o.initial = append(o.initial, initialField{name: name, value: v}) }
}

func WithContent(v any) Option { return WithField(field.Content, v) }
func WithContext(v any) Option { return WithField(field.Context, v) }
func WithText(v any) Option    { return WithField(field.Text, v) }
func WithAudios(v any) Option  { return WithField(field.Audios, v) }
func WithImages(v any) Option  { return WithField(field.Images, v) }
func WithVideos(v any) Option  { return WithField(field.Videos, v) }
func WithExtra(v any) Option   { return WithField(field.Extra, v) }

// WithGuard sets the permission guard. Messages default to
// permission.DefaultGuard.
func WithGuard(g *permission.Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock replaces time.Now for route timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}
