// Package metrics provides Prometheus metrics for message access and
// pipeline runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stupiduntilnot/msgflux/internal/permission"
)

const namespace = "msgflux"

// Collector holds all Prometheus metrics. It implements message.Observer.
type Collector struct {
	// Message access metrics
	FieldSets    *prometheus.CounterVec
	FieldGets    *prometheus.CounterVec
	AccessDenied *prometheus.CounterVec

	// Pipeline metrics
	ModuleRuns     *prometheus.CounterVec
	ModuleDuration *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
	RunsInFlight   prometheus.Gauge

	// Permission reload metrics
	PermissionReloads      prometheus.Counter
	PermissionReloadErrors prometheus.Counter
	PermissionLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		FieldSets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_sets_total",
				Help:      "Total number of successful field writes",
			},
			[]string{"module", "field"},
		),
		FieldGets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_gets_total",
				Help:      "Total number of authorized field reads",
			},
			[]string{"module", "field", "result"},
		),
		AccessDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_denied_total",
				Help:      "Total number of denied field accesses",
			},
			[]string{"module", "field", "mode"},
		),
		ModuleRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "module_runs_total",
				Help:      "Total number of module invocations",
			},
			[]string{"module", "status"},
		),
		ModuleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "module_duration_seconds",
				Help:      "Module invocation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"module"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),
		RunsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "runs_in_flight",
				Help:      "Number of pipeline runs currently executing",
			},
		),
		PermissionReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_reloads_total",
				Help:      "Total number of successful permission reloads",
			},
		),
		PermissionReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "permission_reload_errors_total",
				Help:      "Total number of permission reload errors",
			},
		),
		PermissionLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "permission_last_reload_timestamp",
				Help:      "Unix timestamp of last successful permission reload",
			},
		),
	}
}

func (c *Collector) ObserveSet(module, field string) {
	c.FieldSets.WithLabelValues(module, field).Inc()
}

func (c *Collector) ObserveGet(module, field string, found bool) {
	result := "miss"
	if found {
		result = "hit"
	}
	c.FieldGets.WithLabelValues(module, field, result).Inc()
}

func (c *Collector) ObserveDenied(module, field string, mode permission.Mode) {
	c.AccessDenied.WithLabelValues(module, field, string(mode)).Inc()
}

// ObserveModule records one module invocation.
func (c *Collector) ObserveModule(module string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.ModuleRuns.WithLabelValues(module, status).Inc()
	c.ModuleDuration.WithLabelValues(module).Observe(d.Seconds())
}

func (c *Collector) RunStarted() {
	c.RunsInFlight.Inc()
}

func (c *Collector) RunFinished(status string) {
	c.RunsInFlight.Dec()
	c.Runs.WithLabelValues(status).Inc()
}

// ObserveReload records the outcome of a permission reload.
func (c *Collector) ObserveReload(at time.Time, err error) {
	if err != nil {
		c.PermissionReloadErrors.Inc()
		return
	}
	c.PermissionReloads.Inc()
	c.PermissionLastReload.Set(float64(at.Unix()))
}
