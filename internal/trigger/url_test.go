package trigger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

type lastModifiedServer struct {
	mu       sync.Mutex
	modified time.Time
	status   int
	heads    atomic.Int32
}

func (s *lastModifiedServer) set(ts time.Time, status int) {
	s.mu.Lock()
	s.modified, s.status = ts, status
	s.mu.Unlock()
}

func (s *lastModifiedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.heads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.modified.IsZero() {
		w.Header().Set("Last-Modified", s.modified.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(s.status)
}

func newURLFixture(t *testing.T) (*Url, *lastModifiedServer, func(time.Duration)) {
	t.Helper()
	backend := &lastModifiedServer{status: http.StatusOK, modified: at(1, 8, 0)}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	c := newClock(at(1, 12, 0))
	tr, err := NewUrl(UrlOptions{URL: srv.URL + "/artifact.zip", Interval: time.Minute}, Deps{Clock: c, HTTP: srv.Client()})
	require.NoError(t, err)
	return tr, backend, c.Advance
}

func TestUrlFiresOnChangeOnly(t *testing.T) {
	tr, backend, advance := newURLFixture(t)

	r := tr.Fire(t.Context())
	require.NotNil(t, r, "first observation counts as a change")
	assert.Equal(t, integration.IfModificationExists, r.Condition)
	assert.True(t, strings.HasPrefix(r.Source, "url "))

	require.NotNil(t, tr.Fire(t.Context()), "change keeps firing until its build completes")
	assert.EqualValues(t, 1, backend.heads.Load())
	tr.IntegrationCompleted()

	assert.Nil(t, tr.Fire(t.Context()), "interval not elapsed")
	advance(time.Minute)
	assert.Nil(t, tr.Fire(t.Context()), "unchanged resource")
	assert.EqualValues(t, 2, backend.heads.Load())

	backend.set(at(1, 12, 30), http.StatusOK)
	advance(30 * time.Second)
	assert.Nil(t, tr.Fire(t.Context()), "unchanged poll restarted the interval")
	advance(30 * time.Second)
	require.NotNil(t, tr.Fire(t.Context()))
	tr.IntegrationCompleted()

	advance(time.Minute)
	assert.Nil(t, tr.Fire(t.Context()))
}

func TestUrlSwallowsFailures(t *testing.T) {
	tr, backend, advance := newURLFixture(t)
	backend.set(at(1, 9, 0), http.StatusInternalServerError)
	assert.Nil(t, tr.Fire(t.Context()))

	backend.set(time.Time{}, http.StatusOK)
	advance(time.Minute)
	assert.Nil(t, tr.Fire(t.Context()), "missing Last-Modified is a failed poll")

	backend.set(at(1, 9, 0), http.StatusOK)
	advance(time.Minute)
	assert.NotNil(t, tr.Fire(t.Context()))
}

func TestUrlThrottlesFailureLogs(t *testing.T) {
	var buf bytes.Buffer
	c := newClock(at(1, 12, 0))
	tr, err := NewUrl(UrlOptions{URL: "http://127.0.0.1:1/x", Interval: 10 * time.Second},
		Deps{Clock: c, HTTP: &http.Client{Timeout: time.Second}, Log: logx.NewWriter(&buf, "warn")})
	require.NoError(t, err)

	assert.Nil(t, tr.Fire(t.Context()))
	for i := 0; i < 5; i++ {
		c.Advance(10 * time.Second)
		assert.Nil(t, tr.Fire(t.Context()))
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "url poll failed"))

	c.Set(at(1, 12, 5))
	assert.Nil(t, tr.Fire(t.Context()))
	assert.Equal(t, 2, strings.Count(buf.String(), "url poll failed"))
}

func TestUrlConfigErrors(t *testing.T) {
	deps := Deps{Clock: newClock(at(1, 0, 0))}
	_, err := NewUrl(UrlOptions{URL: "ftp://example.com/x", Interval: time.Minute}, deps)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = NewUrl(UrlOptions{URL: "example.com", Interval: time.Minute}, deps)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	_, err = NewUrl(UrlOptions{URL: "https://example.com/x"}, deps)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestUrlPollStopsWithContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newClock(at(1, 12, 0))
	tr, err := NewUrl(UrlOptions{URL: srv.URL + "/artifact.zip", Interval: time.Minute},
		Deps{Clock: c, HTTP: NewHTTPClient(logx.Nop())})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.Nil(t, tr.Fire(ctx))
	assert.Less(t, time.Since(start), 2*time.Second, "retries outlived the caller")
	assert.Equal(t, at(1, 12, 0), tr.NextBuild(), "an abandoned poll is retried on the next call")
}
