// Package httpserver is the optional operator endpoint: Prometheus metrics,
// the server snapshot as JSON, project controls and, when enabled, pprof.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cruise/internal/manager"
	rtsup "cruise/internal/runtime/supervisor"
	logx "cruise/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8099"

// Config controls the HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Controller is the part of the manager the endpoints drive.
type Controller interface {
	GetCruiseServerSnapshot() manager.ServerSnapshot
	GetQueueNames() []string
	ForceBuild(project, source string, params map[string]string) error
	AbortBuild(project string) (bool, error)
	CancelPendingRequest(project string) (bool, error)
}

// Deps are the sources the endpoints read from. Any of them may be nil.
type Deps struct {
	Controller Controller
	Gatherer   prometheus.Gatherer
	// Runtime supervisors are reported on /status by name.
	Runtime map[string]*rtsup.Supervisor
}

type Service struct {
	log  logx.Logger
	deps Deps

	mu  sync.Mutex
	cfg Config
	cur *instance
}

// instance is one started server: its supervisor and, once bound, the
// listener and http.Server of the current serve attempt.
type instance struct {
	sup *rtsup.Supervisor
	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.ln == nil {
		return ""
	}
	return s.cur.ln.Addr().String()
}

// Supervisor returns the running server's supervisor, or nil.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.sup
}

// Reconfigure applies cfg on a config reload, starting, stopping or
// restarting the server as the change requires.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev, running := s.cfg, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
	case !running:
		s.Start(ctx)
	case needsRestart(prev, cfg):
		s.log.Info("http config changed; restarting server")
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	a.Addr, b.Addr = normalizeAddr(a.Addr), normalizeAddr(b.Addr)
	a.Enabled, b.Enabled = true, true
	return a != b
}

// Start serves in the background under a restart loop, so a failed bind
// is retried. It does nothing when disabled or already started.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return
	}
	inst := &instance{sup: rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// the endpoint is optional; never take the daemon down with it
		rtsup.WithCancelOnError(false),
	)}
	s.cur = inst
	inst.sup.GoRestart("http.serve", func(c context.Context) error {
		return s.serve(c, inst)
	}, 500*time.Millisecond, 10*time.Second)
}

// Stop shuts the server down, letting in-flight requests finish until ctx
// ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	inst := s.cur
	s.cur = nil
	var srv *http.Server
	if inst != nil {
		srv = inst.srv
	}
	s.mu.Unlock()
	if inst == nil {
		return
	}

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	if err := inst.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("http server stop incomplete", logx.Err(err))
	}
	s.log.Info("http server stopped")
}

// serve is one bind-and-serve attempt for inst.
func (s *Service) serve(ctx context.Context, inst *instance) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := normalizeAddr(cfg.Addr)
	if !isLoopbackAddr(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			s.log.Error("refusing to serve on a non-loopback address without a token",
				logx.String("addr", addr))
			return errors.New("http: non-loopback bind requires token or allow_insecure")
		}
		s.log.Warn("serving without a token on a non-loopback address", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.handler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	inst.ln, inst.srv = ln, srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if inst.srv == srv {
			inst.ln, inst.srv = nil, nil
		}
		s.mu.Unlock()
	}()

	stopped := context.AfterFunc(ctx, func() {
		// Stop normally shuts down first; this bounds the case where only
		// the parent context ended.
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stopped()

	s.log.Info("http server listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func normalizeAddr(addr string) string {
	if addr = strings.TrimSpace(addr); addr == "" {
		return DefaultAddr
	}
	return addr
}

// isLoopbackAddr reports whether host:port binds only the loopback
// interface. An empty host means every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
