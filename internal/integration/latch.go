package integration

import (
	"context"
	"sync"
	"time"

	"cruise/internal/clock"
)

// Latch is the BuildRequestLatch: a single-slot mailbox holding the strongest
// request seen since the consumer last took one.
//
// Any number of goroutines may call Request/RequestBuild. Exactly one
// goroutine (the project's integrator) consumes with WaitForRequest,
// WaitTimeout or TryTake.
type Latch struct {
	clock clock.Clock

	mu   sync.Mutex
	slot *Request

	wake chan struct{}
}

func NewLatch(c clock.Clock) *Latch {
	if c == nil {
		c = clock.Real{}
	}
	return &Latch{clock: c, wake: make(chan struct{}, 1)}
}

// Request stores req if it is strictly stronger than what the slot holds.
// An empty slot is weaker than any condition; NoBuild requests are dropped.
// It reports whether the slot changed.
func (l *Latch) Request(req *Request) bool {
	if req == nil || req.Condition <= NoBuild {
		return false
	}
	l.mu.Lock()
	if l.slot != nil && req.Condition <= l.slot.Condition {
		l.mu.Unlock()
		return false
	}
	l.slot = req
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// RequestBuild is Request for a bare condition.
func (l *Latch) RequestBuild(cond BuildCondition) bool {
	return l.Request(NewRequest(cond, "", l.clock.Now()))
}

// HasPendingRequests reports whether the slot is non-empty. Never blocks.
func (l *Latch) HasPendingRequests() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot != nil
}

// TryTake takes and clears the slot if it is non-empty.
func (l *Latch) TryTake() (*Request, bool) {
	l.mu.Lock()
	r := l.slot
	l.slot = nil
	l.mu.Unlock()
	if r == nil {
		return nil, false
	}
	select {
	case <-l.wake:
	default:
	}
	return r, true
}

// Ready is signalled when a request lands in the slot. After receiving from
// it the consumer must call TryTake; a signal may be stale.
func (l *Latch) Ready() <-chan struct{} { return l.wake }

// WaitForRequest blocks until the slot is non-empty, then takes it.
// It only returns without a request when ctx is done.
func (l *Latch) WaitForRequest(ctx context.Context) (*Request, error) {
	for {
		if r, ok := l.TryTake(); ok {
			return r, nil
		}
		select {
		case <-l.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitTimeout is WaitForRequest bounded by d on the latch's clock.
// ok is false when the timeout elapsed with the slot still empty.
func (l *Latch) WaitTimeout(ctx context.Context, d time.Duration) (req *Request, ok bool, err error) {
	if r, taken := l.TryTake(); taken {
		return r, true, nil
	}
	timer := l.clock.After(d)
	for {
		select {
		case <-l.wake:
			if r, taken := l.TryTake(); taken {
				return r, true, nil
			}
		case <-timer:
			if r, taken := l.TryTake(); taken {
				return r, true, nil
			}
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}
