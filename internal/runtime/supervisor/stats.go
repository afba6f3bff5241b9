package supervisor

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"
)

// Counters summarise every goroutine the supervisor has run.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates the runs of one goroutine name.
type GoroutineStats struct {
	Name         string        `json:"name"`
	Active       int64         `json:"active"`
	Started      uint64        `json:"started"`
	Panics       uint64        `json:"panics"`
	Restarts     uint64        `json:"restarts"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	LastErr      string        `json:"last_err,omitempty"`
	LastPanic    string        `json:"last_panic,omitempty"`
	TotalRuntime time.Duration `json:"total_runtime"`
}

// Snapshot is the supervisor section of the /status document.
type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type registry struct {
	mu     sync.Mutex
	totals Counters
	byName map[string]*GoroutineStats
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]*GoroutineStats)}
}

// begin records the start of one run and returns the callback that
// records its end.
func (r *registry) begin(name string, restart bool) func(err error) {
	began := time.Now()

	r.mu.Lock()
	st, ok := r.byName[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		r.byName[name] = st
	}
	st.Started++
	st.Active++
	st.LastStartAt = began
	if restart {
		st.Restarts++
	}
	r.totals.Started++
	r.totals.Active++
	r.mu.Unlock()

	return func(err error) {
		ended := time.Now()
		r.mu.Lock()
		defer r.mu.Unlock()
		st.Active--
		r.totals.Active--
		st.LastStopAt = ended
		st.TotalRuntime += ended.Sub(began)
		var pe *PanicError
		switch {
		case errors.As(err, &pe):
			st.Panics++
			st.LastPanic = pe.Error()
			st.LastErr = pe.Error()
		case err != nil:
			st.LastErr = err.Error()
		}
	}
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	return s.stats.totals
}

// Snapshot lists running goroutines first, then the most recently started.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.stats.mu.Lock()
	snap.Counters = s.stats.totals
	snap.Goroutines = make([]GoroutineStats, 0, len(s.stats.byName))
	for _, st := range s.stats.byName {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	s.stats.mu.Unlock()

	slices.SortFunc(snap.Goroutines, func(a, b GoroutineStats) int {
		return cmp.Or(
			cmp.Compare(b.Active, a.Active),
			b.LastStartAt.Compare(a.LastStartAt),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return snap
}
