// Package metrics exports Prometheus instrumentation for the integrators and
// their queues. Nothing in the scheduling core imports it: the Consumer
// derives every series from the event bus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cruise/internal/eventbus"
	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

const namespace = "cruise"

// Registry holds all metric instances.
type Registry struct {
	// Integrator metrics
	BuildRequests   *prometheus.CounterVec
	BuildsStarted   *prometheus.CounterVec
	BuildsCompleted *prometheus.CounterVec
	BuildsSkipped   *prometheus.CounterVec
	BuildDuration   *prometheus.HistogramVec
	IntegratorState *prometheus.GaugeVec

	// Queue metrics
	QueueAdmissions    *prometheus.CounterVec
	QueueCancellations *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
}

var integratorStates = []integration.IntegratorState{
	integration.Stopped,
	integration.Running,
	integration.Stopping,
}

// NewRegistry registers every series with reg. When bus is non-nil its drop
// counter is exported too.
func NewRegistry(reg prometheus.Registerer, bus eventbus.Bus) *Registry {
	factory := promauto.With(reg)

	r := &Registry{
		BuildRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "build_requests_total",
				Help:      "Build requests accepted by a project's latch",
			},
			[]string{"project", "condition"},
		),

		BuildsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "builds_started_total",
				Help:      "Integrations started after queue admission",
			},
			[]string{"project"},
		),

		BuildsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "builds_completed_total",
				Help:      "Integrations that produced a build, by status",
			},
			[]string{"project", "status"},
		),

		BuildsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "builds_skipped_total",
				Help:      "Integrations that found no modifications",
			},
			[]string{"project"},
		),

		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "build_duration_seconds",
				Help:      "Wall time of completed builds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"project"},
		),

		IntegratorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "integrator",
				Name:      "state",
				Help:      "1 for the integrator's current state, 0 otherwise",
			},
			[]string{"project", "state"},
		),

		QueueAdmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "entered_total",
				Help:      "Items that entered an integration queue",
			},
			[]string{"queue"},
		),

		QueueCancellations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "cancelled_total",
				Help:      "Items withdrawn from a queue before completing",
			},
			[]string{"queue"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Items currently in a queue, active one included",
			},
			[]string{"queue"},
		),
	}

	if bus != nil {
		factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "eventbus",
				Name:      "dropped_total",
				Help:      "Events lost to slow subscribers",
			},
			func() float64 { return float64(bus.Dropped()) },
		)
	}
	return r
}

// Observe folds one bus event into the registry. Unknown types are ignored.
func (r *Registry) Observe(e eventbus.Event) {
	ev, ok := e.Project()
	if !ok {
		return
	}
	switch e.Type {
	case eventbus.TypeBuildRequested:
		r.BuildRequests.WithLabelValues(ev.Project, ev.Condition).Inc()
	case eventbus.TypeQueueEntered:
		r.QueueAdmissions.WithLabelValues(ev.Queue).Inc()
		r.QueueDepth.WithLabelValues(ev.Queue).Inc()
	case eventbus.TypeQueueExited:
		r.QueueDepth.WithLabelValues(ev.Queue).Dec()
		if ev.Cancelled {
			r.QueueCancellations.WithLabelValues(ev.Queue).Inc()
		}
	case eventbus.TypeBuildStarted:
		r.BuildsStarted.WithLabelValues(ev.Project).Inc()
	case eventbus.TypeBuildCompleted:
		if !ev.Built {
			r.BuildsSkipped.WithLabelValues(ev.Project).Inc()
			return
		}
		r.BuildsCompleted.WithLabelValues(ev.Project, ev.Status).Inc()
		r.BuildDuration.WithLabelValues(ev.Project).Observe(ev.Duration.Seconds())
	case eventbus.TypeIntegratorState:
		for _, s := range integratorStates {
			v := 0.0
			if s.String() == ev.State {
				v = 1
			}
			r.IntegratorState.WithLabelValues(ev.Project, s.String()).Set(v)
		}
	}
}

// Consumer feeds a Registry from a bus subscription.
type Consumer struct {
	reg *Registry
	bus eventbus.Bus
	log logx.Logger
}

func NewConsumer(reg *Registry, bus eventbus.Bus, log logx.Logger) *Consumer {
	return &Consumer{reg: reg, bus: bus, log: log}
}

// Run subscribes and observes events until ctx is done. It is shaped for
// supervisor.Go.
func (c *Consumer) Run(ctx context.Context) error {
	events, unsub := c.bus.Subscribe(256)
	defer unsub()
	c.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.reg.Observe(e)
		}
	}
}
