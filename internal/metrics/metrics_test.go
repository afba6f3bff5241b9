package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/eventbus"
	logx "cruise/pkg/logx"
)

func ev(typ string, pe eventbus.ProjectEvent) eventbus.Event {
	if pe.Project == "" {
		pe.Project = "web"
	}
	if pe.Queue == "" {
		pe.Queue = "linux"
	}
	return eventbus.Event{Type: typ, Data: pe}
}

func TestObserveBuildLifecycle(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry(), nil)

	r.Observe(ev(eventbus.TypeBuildRequested, eventbus.ProjectEvent{Condition: "ForceBuild"}))
	r.Observe(ev(eventbus.TypeQueueEntered, eventbus.ProjectEvent{}))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueueDepth.WithLabelValues("linux")))

	r.Observe(ev(eventbus.TypeBuildStarted, eventbus.ProjectEvent{}))
	r.Observe(ev(eventbus.TypeBuildCompleted, eventbus.ProjectEvent{Built: true, Status: "Success", Duration: 3 * time.Second}))
	r.Observe(ev(eventbus.TypeQueueExited, eventbus.ProjectEvent{}))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildRequests.WithLabelValues("web", "ForceBuild")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsStarted.WithLabelValues("web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsCompleted.WithLabelValues("web", "Success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.QueueDepth.WithLabelValues("linux")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueueAdmissions.WithLabelValues("linux")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.QueueCancellations.WithLabelValues("linux")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.BuildDuration))
}

func TestObserveSkippedAndCancelled(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry(), nil)

	r.Observe(ev(eventbus.TypeBuildCompleted, eventbus.ProjectEvent{Built: false}))
	r.Observe(ev(eventbus.TypeQueueEntered, eventbus.ProjectEvent{}))
	r.Observe(ev(eventbus.TypeQueueExited, eventbus.ProjectEvent{Cancelled: true}))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.BuildsSkipped.WithLabelValues("web")))
	assert.Equal(t, 0, testutil.CollectAndCount(r.BuildsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.QueueCancellations.WithLabelValues("linux")))
}

func TestObserveIntegratorState(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry(), nil)

	r.Observe(ev(eventbus.TypeIntegratorState, eventbus.ProjectEvent{State: "Running"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.IntegratorState.WithLabelValues("web", "Running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.IntegratorState.WithLabelValues("web", "Stopped")))

	r.Observe(ev(eventbus.TypeIntegratorState, eventbus.ProjectEvent{State: "Stopped"}))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.IntegratorState.WithLabelValues("web", "Running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.IntegratorState.WithLabelValues("web", "Stopped")))
}

func TestObserveIgnoresForeignPayloads(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry(), nil)
	r.Observe(eventbus.Event{Type: eventbus.TypeBuildStarted, Data: "nope"})
	assert.Equal(t, 0, testutil.CollectAndCount(r.BuildsStarted))
}

func TestBusDroppedIsExported(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := eventbus.New()
	NewRegistry(reg, bus)

	_, unsub := bus.Subscribe(1)
	defer unsub()
	bus.Publish(eventbus.Event{Type: "x"})
	bus.Publish(eventbus.Event{Type: "x"})

	n, err := testutil.GatherAndCount(reg, "cruise_eventbus_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestConsumerRun(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry(), nil)
	bus := eventbus.New()
	c := NewConsumer(r, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.Publish(ev(eventbus.TypeBuildStarted, eventbus.ProjectEvent{Project: "api"}))
		return testutil.ToFloat64(r.BuildsStarted.WithLabelValues("api")) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
