// Package integrator runs one project's control loop: poll the trigger, feed
// the latch, wait for admission into the project's queue, run the pipeline
// and acknowledge the trigger.
//
// State machine: Stopped -> Running{Sleeping, Pending, CheckingModifications,
// Building} -> Stopping -> Stopped. Stop lets an admitted build finish;
// Abort cancels it.
package integrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cruise/internal/clock"
	"cruise/internal/eventbus"
	"cruise/internal/integration"
	"cruise/internal/pipeline"
	"cruise/internal/queue"
	"cruise/internal/runtime/supervisor"
	"cruise/internal/storage"
	"cruise/internal/trigger"
	logx "cruise/pkg/logx"
)

const (
	DefaultPollInterval = 15 * time.Second
	minIdleWait         = time.Second
)

var ErrAlreadyRunning = errors.New("integrator is already running")

// Options are the collaborators of one Integrator. Trigger, Queue and
// Pipeline are required.
type Options struct {
	Name          string
	QueuePriority int
	Trigger       trigger.Trigger
	Queue         *queue.Queue
	Pipeline      pipeline.Pipeline

	Clock        clock.Clock
	PollInterval time.Duration
	Log          logx.Logger
	Bus          eventbus.Bus
	// Supervisor hosts the loop goroutine; nil runs it bare.
	Supervisor *supervisor.Supervisor
}

// LastBuild is the most recent integration result the integrator knows of.
type LastBuild struct {
	Status    integration.BuildStatus `json:"status"`
	Label     string                  `json:"label,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	EndedAt   time.Time               `json:"ended_at"`
	Error     string                  `json:"error,omitempty"`
}

// Integrator is a ProjectIntegrator. It implements queue.Project.
type Integrator struct {
	name     string
	priority int
	trigger  trigger.Trigger
	latch    *integration.Latch
	queue    *queue.Queue
	pipeline pipeline.Pipeline
	clock    clock.Clock
	poll     time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	sup      *supervisor.Supervisor

	activity atomic.Int32

	mu          sync.Mutex
	state       integration.IntegratorState
	stopLoop    context.CancelFunc
	done        chan struct{}
	buildCancel context.CancelFunc
	aborting    bool
	last        *LastBuild
}

func New(opts Options) (*Integrator, error) {
	switch {
	case opts.Name == "":
		return nil, errors.New("integrator: name required")
	case opts.Trigger == nil:
		return nil, errors.New("integrator: trigger required")
	case opts.Queue == nil:
		return nil, errors.New("integrator: queue required")
	case opts.Pipeline == nil:
		return nil, errors.New("integrator: pipeline required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Integrator{
		name:     opts.Name,
		priority: opts.QueuePriority,
		trigger:  opts.Trigger,
		latch:    integration.NewLatch(opts.Clock),
		queue:    opts.Queue,
		pipeline: opts.Pipeline,
		clock:    opts.Clock,
		poll:     opts.PollInterval,
		log:      opts.Log.With(logx.Component("integrator"), logx.Project(opts.Name)),
		bus:      opts.Bus,
		sup:      opts.Supervisor,
	}, nil
}

func (i *Integrator) Name() string       { return i.name }
func (i *Integrator) QueuePriority() int { return i.priority }
func (i *Integrator) QueueName() string  { return i.queue.Name() }

func (i *Integrator) Activity() integration.Activity {
	return integration.Activity(i.activity.Load())
}

func (i *Integrator) setActivity(a integration.Activity) {
	i.activity.Store(int32(a))
}

func (i *Integrator) State() integration.IntegratorState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Trigger is the project's trigger tree.
func (i *Integrator) Trigger() trigger.Trigger { return i.trigger }

// Start launches the loop. Starting a running integrator is an error;
// starting one that is still stopping is too.
func (i *Integrator) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != integration.Stopped {
		return ErrAlreadyRunning
	}
	parent := context.Background()
	if i.sup != nil {
		parent = i.sup.Context()
	}
	ctx, cancel := context.WithCancel(parent)
	i.stopLoop = cancel
	i.done = make(chan struct{})
	i.aborting = false
	i.state = integration.Running
	i.setActivity(integration.Sleeping)

	done := i.done
	run := func(ctx context.Context) error {
		defer close(done)
		defer i.stopped()
		return i.loop(ctx)
	}
	if i.sup != nil {
		i.sup.GoContext(ctx, "integrator."+i.name, run)
	} else {
		go func() { _ = run(ctx) }()
	}
	i.emitState(integration.Running)
	i.log.Info("integrator started", logx.String("queue", i.queue.Name()))
	return nil
}

func (i *Integrator) stopped() {
	i.mu.Lock()
	i.state = integration.Stopped
	if i.stopLoop != nil {
		i.stopLoop()
		i.stopLoop = nil
	}
	i.mu.Unlock()
	i.setActivity(integration.Sleeping)
	i.emitState(integration.Stopped)
	i.log.Info("integrator stopped")
}

// Stop ends the loop after any admitted build finishes and waits for it, or
// for ctx. A pending queue item is withdrawn as cancelled.
func (i *Integrator) Stop(ctx context.Context) error {
	return i.halt(ctx, false)
}

// Abort is Stop that also cancels a running build. An item admitted but not
// yet building is released without running.
func (i *Integrator) Abort(ctx context.Context) error {
	return i.halt(ctx, true)
}

func (i *Integrator) halt(ctx context.Context, abort bool) error {
	i.mu.Lock()
	if i.state == integration.Stopped {
		i.mu.Unlock()
		return nil
	}
	i.state = integration.Stopping
	if i.stopLoop != nil {
		i.stopLoop()
	}
	if abort {
		// an item admitted but not yet building sees this in build
		i.aborting = true
		if i.buildCancel != nil {
			i.buildCancel()
		}
	}
	done := i.done
	i.mu.Unlock()
	i.emitState(integration.Stopping)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the current loop has exited. Nil before the first Start.
func (i *Integrator) Done() <-chan struct{} {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.done
}

// ForceBuild requests a ForceBuild through the latch, the same mailbox the
// trigger feeds.
func (i *Integrator) ForceBuild(source string, params map[string]string) bool {
	req := integration.NewRequest(integration.ForceBuild, source, i.clock.Now())
	if len(params) > 0 {
		req = req.WithParameters(params)
	}
	return i.Request(req)
}

// Request hands req to the latch. Weaker-or-equal requests coalesce.
func (i *Integrator) Request(req *integration.Request) bool {
	if !i.latch.Request(req) {
		return false
	}
	i.emit(eventbus.TypeBuildRequested, eventbus.ProjectEvent{
		Condition: req.Condition.String(),
		Source:    req.Source,
	})
	return true
}

// HasPendingRequests reports whether the latch holds an untaken request.
func (i *Integrator) HasPendingRequests() bool { return i.latch.HasPendingRequests() }

// AbortBuild cancels the running build, if any.
func (i *Integrator) AbortBuild() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.buildCancel == nil {
		return false
	}
	i.buildCancel()
	return true
}

// CancelPendingRequest withdraws the project's pending queue item.
func (i *Integrator) CancelPendingRequest() bool {
	return i.queue.Cancel(i.name)
}

// Last returns the most recent result, or nil if none is known.
func (i *Integrator) Last() *LastBuild {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.last == nil {
		return nil
	}
	cp := *i.last
	return &cp
}

// Seed sets the last result from persisted state. A result the integrator
// produced itself is never overwritten.
func (i *Integrator) Seed(r storage.IntegrationResult) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.last != nil {
		return
	}
	i.last = &LastBuild{Status: r.Status, Label: r.Label, StartedAt: r.StartedAt, EndedAt: r.EndedAt, Error: r.Error}
}

func (i *Integrator) emitState(s integration.IntegratorState) {
	i.emit(eventbus.TypeIntegratorState, eventbus.ProjectEvent{State: s.String()})
}

func (i *Integrator) emit(typ string, ev eventbus.ProjectEvent) {
	if i.bus == nil {
		return
	}
	ev.Project = i.name
	ev.Queue = i.queue.Name()
	i.bus.Publish(eventbus.Event{Type: typ, Time: i.clock.Now(), Data: ev})
}
