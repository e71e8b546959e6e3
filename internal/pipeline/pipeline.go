package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stupiduntilnot/msgflux/internal/control"
	"github.com/stupiduntilnot/msgflux/internal/db"
	"github.com/stupiduntilnot/msgflux/internal/exporter"
	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/route"
)

// Final run statuses.
const (
	StatusCompleted    = db.ExecutionStatusCompleted
	StatusFailed       = db.ExecutionStatusFailed
	StatusLimitReached = db.ExecutionStatusLimitReached
)

// Metrics receives module and run outcomes. *metrics.Collector implements it.
type Metrics interface {
	ObserveModule(module string, d time.Duration, err error)
	RunStarted()
	RunFinished(status string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveModule(string, time.Duration, error) {}
func (nopMetrics) RunStarted()                                {}
func (nopMetrics) RunFinished(string)                         {}

// Stage is a group of modules. Modules of a parallel stage run concurrently
// on the same message; otherwise they run in order.
type Stage struct {
	Parallel bool
	Modules  []Module
}

// Result summarizes one run.
type Result struct {
	ExecutionID string
	Status      string
	Steps       int
	Duration    time.Duration
	Route       []route.Entry
}

// Pipeline is an ordered list of stages plus the policy and sinks applied to
// every run. A Pipeline may run many messages, concurrently or not; circuit
// breakers are shared across runs.
type Pipeline struct {
	stages   []Stage
	policy   control.Policy
	logger   zerolog.Logger
	metrics  Metrics
	sink     EventSink
	exporter exporter.Exporter
	now      func() time.Time
	backoff  func(attempt int) time.Duration

	breakers *control.Breakers
}

type Option func(*Pipeline)

func WithPolicy(p control.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(pl *Pipeline) { pl.logger = l }
}

func WithMetrics(m Metrics) Option {
	return func(pl *Pipeline) {
		if m != nil {
			pl.metrics = m
		}
	}
}

func WithEventSink(s EventSink) Option {
	return func(pl *Pipeline) {
		if s != nil {
			pl.sink = s
		}
	}
}

func WithExporter(e exporter.Exporter) Option {
	return func(pl *Pipeline) {
		if e != nil {
			pl.exporter = e
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithCircuitBreaker opens a module's circuit after threshold consecutive
// failures of one error class. A threshold of zero or less disables breakers.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(pl *Pipeline) {
		pl.breakers = control.NewBreakers(threshold, cooldown)
	}
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		policy:   control.DefaultPolicy(),
		logger:   zerolog.Nop(),
		metrics:  nopMetrics{},
		sink:     nopSink{},
		exporter: exporter.NewNoopExporter(),
		now:      time.Now,
		backoff:  control.RetryBackoff,
		breakers: control.NewBreakers(control.DefaultBreakerThreshold, control.DefaultBreakerCooldown),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Then appends a sequential stage.
func (p *Pipeline) Then(mods ...Module) *Pipeline {
	if len(mods) > 0 {
		p.stages = append(p.stages, Stage{Modules: mods})
	}
	return p
}

// Parallel appends a fan-out stage. The stage finishes when every module has
// returned; the first failure cancels the others.
func (p *Pipeline) Parallel(mods ...Module) *Pipeline {
	if len(mods) > 0 {
		p.stages = append(p.stages, Stage{Parallel: true, Modules: mods})
	}
	return p
}

// Stages returns a copy of the configured stages.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Validate rejects pipelines containing modules without a name. A module may
// appear in several stages.
func (p *Pipeline) Validate() error {
	if err := p.policy.Validate(); err != nil {
		return err
	}
	for i, st := range p.stages {
		for _, m := range st.Modules {
			if m == nil || m.Name() == "" {
				return fmt.Errorf("stage %d: module without a name", i)
			}
		}
	}
	return nil
}

type run struct {
	msg        *message.Message
	startedAt  time.Time
	wallStart  time.Time
	runEventID int64
	steps      atomic.Int64
}

// Run forwards msg through every stage. It stops at the first failure, a
// policy limit or ctx cancellation. The route is exported whatever the
// outcome; export failures are logged, never returned.
func (p *Pipeline) Run(ctx context.Context, msg *message.Message) (Result, error) {
	if msg == nil {
		return Result{}, fmt.Errorf("validation: nil message")
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	r := &run{msg: msg, startedAt: p.now(), wallStart: time.Now()}
	log := p.logger.With().Str("execution_id", msg.ExecutionID()).Logger()
	p.metrics.RunStarted()

	runEventID, err := p.sink.RunStarted(ctx, msg)
	if err != nil {
		log.Warn().Err(err).Msg("record run start")
	}
	r.runEventID = runEventID
	log.Info().Int("stages", len(p.stages)).Msg("run started")

	// The wall-time budget also bounds a module that never returns.
	runCtx, cancel := context.WithTimeout(ctx, p.policy.MaxWallTime)
	defer cancel()

	var runErr error
	for i, st := range p.stages {
		if err := runCtx.Err(); err != nil {
			runErr = err
			break
		}
		p.event(ctx, r, r.runEventID, db.EventStageStarted, map[string]any{
			"stage":    i,
			"parallel": st.Parallel,
			"modules":  moduleNames(st.Modules),
		})
		if st.Parallel && len(st.Modules) > 1 {
			runErr = p.runParallel(runCtx, r, i, st.Modules)
		} else {
			runErr = p.runSequential(runCtx, r, i, st.Modules)
		}
		if runErr != nil {
			break
		}
	}
	if runErr != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		le := control.WallTimeExceeded(p.policy, time.Since(r.wallStart))
		p.event(ctx, r, r.runEventID, db.EventControlLimitReached, map[string]any{
			"limit_type": string(le.Type),
			"value":      le.Value,
			"threshold":  le.Threshold,
		})
		runErr = fmt.Errorf("%w: %w", le, runErr)
	}

	status := statusFor(runErr)
	res := Result{
		ExecutionID: msg.ExecutionID(),
		Status:      status,
		Steps:       int(r.steps.Load()),
		Duration:    p.now().Sub(r.startedAt),
		Route:       msg.GetRoute(""),
	}
	p.finish(ctx, r, log, res, runErr)
	return res, runErr
}

func (p *Pipeline) finish(ctx context.Context, r *run, log zerolog.Logger, res Result, runErr error) {
	// Cancellation of the run must not prevent recording how it ended.
	ctx = context.WithoutCancel(ctx)

	if err := p.sink.RunFinished(ctx, r.msg, r.runEventID, res.Status, runErr); err != nil {
		log.Warn().Err(err).Msg("record run finish")
	}
	rec, err := exporter.NewRecord(r.msg, res.Status, runErr)
	if err != nil {
		log.Error().Err(err).Msg("build export record")
	} else if err := p.exporter.Export(ctx, rec); err != nil {
		log.Error().Err(err).Str("exporter", p.exporter.Name()).Msg("export run")
	} else {
		p.event(ctx, r, r.runEventID, db.EventRouteExported, map[string]any{
			"exporter": p.exporter.Name(),
			"entries":  len(rec.Route),
		})
	}
	p.metrics.RunFinished(res.Status)

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Str("status", res.Status).
		Int("steps", res.Steps).
		Dur("duration", res.Duration).
		Int("route_entries", len(res.Route)).
		Msg("run finished")
}

func (p *Pipeline) runSequential(ctx context.Context, r *run, stage int, mods []Module) error {
	for _, m := range mods {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.step(ctx, r, stage, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runParallel(ctx context.Context, r *run, stage int, mods []Module) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range mods {
		m := m
		g.Go(func() error {
			return p.step(gctx, r, stage, m)
		})
	}
	return g.Wait()
}

// step runs one module invocation, retrying transient failures.
func (p *Pipeline) step(ctx context.Context, r *run, stage int, m Module) error {
	name := m.Name()
	used := int(r.steps.Add(1)) - 1
	if err := p.checkLimits(ctx, r, used); err != nil {
		r.steps.Add(-1)
		return err
	}

	breaker := p.breakers.For(name)
	if breaker != nil && !breaker.Allow(p.now()) {
		err := &CircuitOpenError{Module: name, Class: breaker.OpenedClass()}
		p.logger.Warn().Str("execution_id", r.msg.ExecutionID()).Str("module", name).Msg("circuit open, module skipped")
		return &ModuleError{Module: name, Stage: stage, Err: err}
	}

	log := p.logger.With().
		Str("execution_id", r.msg.ExecutionID()).
		Str("module", name).
		Int("stage", stage).
		Logger()
	moduleEventID := p.event(ctx, r, r.runEventID, db.EventModuleStarted, map[string]any{
		"module": name,
		"stage":  stage,
		"step":   used + 1,
	})
	log.Debug().Msg("module started")

	started := p.now()
	attempts := 0
	var err error
	for {
		attempts++
		err = forward(ctx, m, r.msg)
		if err == nil || !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if !p.policy.ShouldRetry(attempts) {
			p.event(ctx, r, moduleEventID, db.EventRetryExhausted, map[string]any{
				"module":   name,
				"attempts": attempts,
				"error":    err.Error(),
			})
			break
		}
		wait := p.backoff(attempts)
		p.event(ctx, r, moduleEventID, db.EventRetryScheduled, map[string]any{
			"module":     name,
			"attempt":    attempts,
			"backoff_ms": wait.Milliseconds(),
			"error":      err.Error(),
		})
		log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("module failed, retrying")
		if serr := sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}
	elapsed := p.now().Sub(started)
	p.metrics.ObserveModule(name, elapsed, err)

	if err != nil {
		class := classifyError(err)
		switch {
		case breaker == nil:
		case ctx.Err() != nil || class == classLimit:
			// The run was stopped; the module did not fail on its own.
			breaker.Release()
		case breaker.Failure(class, p.now()):
			p.event(ctx, r, moduleEventID, db.EventCircuitOpened, map[string]any{
				"module":           name,
				"error_class":      class,
				"threshold":        breaker.Threshold(),
				"cooldown_seconds": int(breaker.Cooldown().Seconds()),
			})
			log.Warn().Str("error_class", class).Msg("circuit opened")
		}
		p.event(ctx, r, moduleEventID, db.EventModuleFailed, map[string]any{
			"module":      name,
			"attempts":    attempts,
			"error_class": class,
			"error":       err.Error(),
			"duration_ms": elapsed.Milliseconds(),
		})
		log.Error().Err(err).Str("error_class", class).Int("attempts", attempts).Msg("module failed")
		return &ModuleError{Module: name, Stage: stage, Attempts: attempts, Err: err}
	}

	if breaker != nil {
		breaker.Success()
	}
	p.event(ctx, r, moduleEventID, db.EventModuleCompleted, map[string]any{
		"module":      name,
		"attempts":    attempts,
		"duration_ms": elapsed.Milliseconds(),
	})
	log.Info().Dur("duration", elapsed).Int("attempts", attempts).Msg("module completed")
	return nil
}

func (p *Pipeline) checkLimits(ctx context.Context, r *run, used int) error {
	err := control.CheckStepLimit(p.policy, used)
	if err == nil {
		err = control.CheckWallTime(p.policy, r.startedAt, p.now())
	}
	if err == nil {
		return nil
	}
	var le *control.LimitError
	if errors.As(err, &le) {
		p.event(ctx, r, r.runEventID, db.EventControlLimitReached, map[string]any{
			"limit_type": string(le.Type),
			"value":      le.Value,
			"threshold":  le.Threshold,
		})
	}
	return err
}

// BreakerState reports the circuit state of a module.
func (p *Pipeline) BreakerState(module string) control.CircuitState {
	return p.breakers.State(module)
}

// OpenCircuits lists modules currently skipped or probing.
func (p *Pipeline) OpenCircuits() []string {
	return p.breakers.Open()
}

func (p *Pipeline) event(ctx context.Context, r *run, parentID int64, eventType string, payload map[string]any) int64 {
	id, err := p.sink.Event(ctx, r.msg.ExecutionID(), parentID, eventType, payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("execution_id", r.msg.ExecutionID()).Str("event_type", eventType).Msg("record event")
		return 0
	}
	return id
}

func forward(ctx context.Context, m Module, msg *message.Message) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return m.Forward(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func statusFor(err error) string {
	if err == nil {
		return StatusCompleted
	}
	var le *control.LimitError
	if errors.As(err, &le) {
		return StatusLimitReached
	}
	return StatusFailed
}

func moduleNames(mods []Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Name()
	}
	return out
}
