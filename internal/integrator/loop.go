package integrator

import (
	"context"
	"errors"
	"time"

	"cruise/internal/eventbus"
	"cruise/internal/integration"
	"cruise/internal/pipeline"
	"cruise/internal/queue"
	logx "cruise/pkg/logx"
)

// loop runs until ctx is cancelled. Only a graceful stop of an admitted
// build outlives ctx.
func (i *Integrator) loop(ctx context.Context) error {
	for {
		req, err := i.nextRequest(ctx)
		if err != nil {
			return err
		}
		i.integrate(ctx, req)
	}
}

// nextRequest polls the trigger and waits on the latch between polls.
func (i *Integrator) nextRequest(ctx context.Context) (*integration.Request, error) {
	for {
		if r := i.trigger.Fire(ctx); r != nil {
			i.Request(r)
		}
		r, ok, err := i.latch.WaitTimeout(ctx, i.idleWait())
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
}

// idleWait is min(poll, NextBuild-now), at least a second.
func (i *Integrator) idleWait() time.Duration {
	wait := i.poll
	if d := i.trigger.NextBuild().Sub(i.clock.Now()); d < wait {
		wait = d
	}
	return max(wait, minIdleWait)
}

// ticket is the Notifier of one queue item.
type ticket struct {
	i         *Integrator
	item      *queue.Item
	cancelled chan struct{}
}

func (t *ticket) OnEnteringQueue() {
	t.i.setActivity(integration.Pending)
	t.i.emit(eventbus.TypeQueueEntered, eventbus.ProjectEvent{
		Condition: t.item.Request.Condition.String(),
		Source:    t.item.Request.Source,
	})
}

func (t *ticket) OnExitingQueue(cancelled bool) {
	if cancelled {
		close(t.cancelled)
	}
	t.i.emit(eventbus.TypeQueueExited, eventbus.ProjectEvent{Cancelled: cancelled})
}

func (i *Integrator) newTicket(req *integration.Request) *ticket {
	t := &ticket{i: i, cancelled: make(chan struct{})}
	t.item = queue.NewItem(i, req, t, i.clock.Now())
	return t
}

// integrate takes one request through the queue and the pipeline.
func (i *Integrator) integrate(ctx context.Context, req *integration.Request) {
	t, ok := i.admit(ctx, req)
	if !ok {
		i.setActivity(integration.Sleeping)
		return
	}
	i.build(ctx, t)
}

// admit enqueues req and waits until it is the queue's active item. While it
// waits, a stronger request from the latch replaces the pending item as the
// queue's duplicate handling allows. It reports false when the item was
// cancelled or the loop was stopped first.
func (i *Integrator) admit(ctx context.Context, req *integration.Request) (*ticket, bool) {
	t := i.newTicket(req)
	if i.queue.Enqueue(t.item) == queue.Dropped {
		// only reachable if a stale item of ours is still pending
		i.log.Warn("request dropped by queue", logx.Stringer("condition", req.Condition))
		return nil, false
	}

	for {
		select {
		case <-t.item.Admitted():
			return t, true

		case <-t.cancelled:
			i.log.Info("pending request cancelled", logx.String("source", t.item.Request.Source))
			// the cancelled request counts as handled so the trigger doesn't re-fire at once
			i.trigger.IntegrationCompleted()
			return nil, false

		case <-ctx.Done():
			i.queue.Remove(t.item, true)
			// a stop racing admission may leave the slot ours; Remove released it
			return nil, false

		case <-i.latch.Ready():
			r, taken := i.latch.TryTake()
			if !taken || r.Condition <= t.item.Request.Condition {
				continue
			}
			t = i.upgrade(t, r)
		}
	}
}

func (i *Integrator) upgrade(cur *ticket, r *integration.Request) *ticket {
	next := i.newTicket(r)
	switch i.queue.Enqueue(next.item) {
	case queue.Replaced:
		i.log.Debug("pending request upgraded", logx.Stringer("condition", r.Condition), logx.String("source", r.Source))
		return next
	case queue.Queued:
		// cur was admitted concurrently; run it and keep r for the next cycle
		i.queue.Remove(next.item, true)
		i.latch.Request(r)
		return cur
	default:
		i.log.Debug("upgrade dropped by queue", logx.Stringer("mode", i.queue.Config().Duplicates))
		return cur
	}
}

func (i *Integrator) build(ctx context.Context, t *ticket) {
	req := t.item.Request
	// a graceful stop lets an admitted build finish; Abort cancels buildCtx
	buildCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	i.mu.Lock()
	if i.aborting {
		i.mu.Unlock()
		cancel()
		i.queue.Complete(t.item)
		i.setActivity(integration.Sleeping)
		i.log.Info("admitted build abandoned", logx.String("source", req.Source))
		return
	}
	i.buildCancel = cancel
	i.mu.Unlock()

	defer func() {
		i.mu.Lock()
		i.buildCancel = nil
		i.mu.Unlock()
		cancel()
		i.queue.Complete(t.item)
		i.trigger.IntegrationCompleted()
		i.setActivity(integration.Sleeping)
	}()

	i.setActivity(integration.CheckingModifications)
	i.emit(eventbus.TypeBuildStarted, eventbus.ProjectEvent{Condition: req.Condition.String(), Source: req.Source})
	i.log.Info("integration started", logx.Stringer("condition", req.Condition), logx.String("source", req.Source))

	res, err := i.run(buildCtx, req)
	if err != nil {
		i.log.Error("pipeline failed", logx.Err(err))
		res.Status = integration.StatusException
		res.Built = true
		res.Error = err.Error()
		if res.StartedAt.IsZero() {
			res.StartedAt = i.clock.Now()
		}
		if res.EndedAt.IsZero() {
			res.EndedAt = i.clock.Now()
		}
	}

	ev := eventbus.ProjectEvent{
		Condition: req.Condition.String(),
		Source:    req.Source,
		Status:    string(res.Status),
		Label:     res.Label,
		Built:     res.Built,
		Duration:  res.EndedAt.Sub(res.StartedAt),
		Err:       res.Error,
	}
	i.emit(eventbus.TypeBuildCompleted, ev)
	if !res.Built {
		i.log.Info("integration skipped: no modifications")
		return
	}
	i.mu.Lock()
	i.last = &LastBuild{Status: res.Status, Label: res.Label, StartedAt: res.StartedAt, EndedAt: res.EndedAt, Error: res.Error}
	i.mu.Unlock()
	i.log.Info("integration completed",
		logx.String("status", string(res.Status)),
		logx.String("label", res.Label),
		logx.Duration("took", ev.Duration),
	)
}

// run calls the pipeline, turning a panic into an error so the loop survives.
func (i *Integrator) run(ctx context.Context, req *integration.Request) (res pipeline.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("pipeline panicked")
			i.log.Error("pipeline panicked", logx.Any("panic", r))
		}
	}()
	return i.pipeline.Run(ctx, pipeline.Request{
		Project:  i.name,
		Request:  req,
		Progress: i.setActivity,
	})
}
