package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/integration"
	"cruise/internal/integrator"
	"cruise/internal/manager"
	"cruise/internal/queue"
	rtsup "cruise/internal/runtime/supervisor"
	logx "cruise/pkg/logx"
)

type fakeController struct {
	forced  []string
	sources []string
	params  map[string]string
}

func (f *fakeController) GetCruiseServerSnapshot() manager.ServerSnapshot {
	return manager.ServerSnapshot{
		ProjectStatuses: []integrator.Status{{Name: "web", Queue: "linux", State: integration.Running, Activity: integration.Sleeping}},
		Queues:          queue.SetSnapshot{Queues: []queue.Snapshot{{QueueName: "linux", IsEmpty: true}}},
	}
}

func (f *fakeController) GetQueueNames() []string { return []string{"linux"} }

func (f *fakeController) ForceBuild(project, source string, params map[string]string) error {
	if project != "web" {
		return fmt.Errorf("%w: %q", manager.ErrUnknownProject, project)
	}
	f.forced = append(f.forced, project)
	f.sources = append(f.sources, source)
	f.params = params
	return nil
}

func (f *fakeController) AbortBuild(project string) (bool, error) {
	if project != "web" {
		return false, manager.ErrUnknownProject
	}
	return true, nil
}

func (f *fakeController) CancelPendingRequest(project string) (bool, error) {
	if project != "web" {
		return false, manager.ErrUnknownProject
	}
	return false, nil
}

func newTestServer(t *testing.T, cfg Config, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(cfg, deps, logx.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, hdr map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	sup := rtsup.New(context.Background())
	defer sup.Cancel()
	sup.Go("probe", func(ctx context.Context) error { <-ctx.Done(); return nil })

	srv := newTestServer(t, Config{}, Deps{Controller: &fakeController{}, Runtime: map[string]*rtsup.Supervisor{"app": sup}})
	resp := do(t, http.MethodGet, srv.URL+"/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"linux"}, got.Queues)
	require.NotNil(t, got.Server.FindProject("web"))
	assert.Equal(t, integration.Sleeping, got.Server.FindProject("web").Activity)
	require.NotNil(t, got.Server.Queues.FindByName("linux"))
	require.Contains(t, got.Runtime, "app")
	assert.Equal(t, uint64(1), got.Runtime["app"].Counters.Started)
}

func TestForceEndpoint(t *testing.T) {
	c := &fakeController{}
	srv := newTestServer(t, Config{}, Deps{Controller: c})

	resp := do(t, http.MethodPost, srv.URL+"/projects/web/force", `{"source":"ops","parameters":{"target":"prod"}}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"web"}, c.forced)
	assert.Equal(t, "ops", c.sources[0])
	assert.Equal(t, map[string]string{"target": "prod"}, c.params)

	resp = do(t, http.MethodPost, srv.URL+"/projects/web/force", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "http", c.sources[1])

	resp = do(t, http.MethodPost, srv.URL+"/projects/nope/force", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/projects/web/force", `{`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/projects/web/force", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAbortAndCancelEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{}, Deps{Controller: &fakeController{}})

	resp := do(t, http.MethodPost, srv.URL+"/projects/web/abort", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var a ActionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	assert.Equal(t, ActionResponse{Project: "web", Action: "abort", Applied: true}, a)

	resp = do(t, http.MethodPost, srv.URL+"/projects/web/cancel", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&a))
	assert.False(t, a.Applied)

	resp = do(t, http.MethodPost, srv.URL+"/projects/other/abort", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTokenAuth(t *testing.T) {
	srv := newTestServer(t, Config{Token: "s3cret"}, Deps{Controller: &fakeController{}})

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/status", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodGet, srv.URL+"/status?token=wrong", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/status?token=s3cret", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/status", "", map[string]string{"Authorization": "Bearer s3cret"}).StatusCode)
	// liveness never needs the token
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", "", nil).StatusCode)
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "cruise_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := newTestServer(t, Config{Pprof: true}, Deps{Gatherer: reg})
	resp := do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cruise_test_total 1")

	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/debug/pprof/", "", nil).StatusCode)
	// no controller, no status route
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, srv.URL+"/status", "", nil).StatusCode)

	off := newTestServer(t, Config{}, Deps{})
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, off.URL+"/debug/pprof/", "", nil).StatusCode)
}

func TestReconfigureEnableDisable(t *testing.T) {
	s := New(Config{}, Deps{Controller: &fakeController{}}, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, s.Supervisor())

	resp := do(t, http.MethodGet, "http://"+s.Addr()+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Equal(t, "", s.Addr())
	assert.Nil(t, s.Supervisor())
	assert.False(t, s.Enabled())
}

func TestNeedsRestart(t *testing.T) {
	base := Config{Enabled: true, Addr: ""}
	assert.False(t, needsRestart(base, Config{Enabled: true, Addr: DefaultAddr}))
	assert.True(t, needsRestart(base, Config{Enabled: true, Addr: "127.0.0.1:9000"}))
	assert.True(t, needsRestart(base, Config{Enabled: true, Pprof: true}))
	assert.True(t, needsRestart(base, Config{Enabled: true, Token: "x"}))
	assert.True(t, needsRestart(base, Config{Enabled: true, IdleTimeout: time.Second}))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:8099"))
	assert.True(t, isLoopbackAddr("localhost:8099"))
	assert.True(t, isLoopbackAddr("[::1]:8099"))
	assert.False(t, isLoopbackAddr(":8099"))
	assert.False(t, isLoopbackAddr("0.0.0.0:8099"))
	assert.False(t, isLoopbackAddr("10.0.0.5:8099"))
	assert.False(t, isLoopbackAddr("garbage"))
}
