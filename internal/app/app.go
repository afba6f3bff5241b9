// Package app is the composition root of the cruise daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cruise/internal/clock"
	"cruise/internal/config"
	"cruise/internal/eventbus"
	"cruise/internal/integrator"
	"cruise/internal/manager"
	"cruise/internal/metrics"
	"cruise/internal/observability/httpserver"
	"cruise/internal/queue"
	"cruise/internal/runtime/supervisor"
	"cruise/internal/storage"
	"cruise/internal/trigger"
	logx "cruise/pkg/logx"
	"cruise/pkg/systemd"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm   *config.ConfigManager
	server serverSettings

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	state storage.StateManager

	prom    *prometheus.Registry
	metrics *metrics.Registry

	// builds hosts the integrator loops; it outlives the app supervisor so
	// running builds can finish during Stop.
	builds *supervisor.Supervisor
	mgr    *manager.Manager

	httpCfg httpserver.Config
	http    *httpserver.Service

	sup *supervisor.Supervisor
}

// New loads cfgPath and wires every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	server, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.Component("app"))

	state, err := storage.Open(sc, log.With(logx.Component("storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if sc.Driver != "" {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg := metrics.NewRegistry(prom, bus)

	builds := supervisor.New(context.Background(),
		supervisor.WithLogger(log.With(logx.Component("integrators"))),
		// one broken project must not stop the others
		supervisor.WithCancelOnError(false),
	)

	factory := integrator.NewFactory(integrator.Deps{
		Clock:        clock.Real{},
		Location:     server.Location,
		PollInterval: server.PollInterval,
		Log:          logs.Logger(),
		Bus:          bus,
		Supervisor:   builds,
		State:        state,
	})
	mgr, err := manager.New(factory, cfg, state, logs.Logger())
	if err != nil {
		builds.Cancel()
		_ = state.Close()
		_ = logs.Close()
		return nil, err
	}

	return &App{
		cfgm:    cfgm,
		server:  server,
		log:     log,
		logs:    logs,
		bus:     bus,
		state:   state,
		prom:    prom,
		metrics: reg,
		builds:  builds,
		mgr:     mgr,
		httpCfg: httpCfg,
	}, nil
}

// Validate checks everything New would reject, including every project's
// trigger tree and queue duplicate handling mode.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	var errs []error
	server, err := mapServerConfig(cfg)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	for i, q := range cfg.Queues {
		if _, err := queue.ParseDuplicateHandling(q.Duplicates); err != nil {
			errs = append(errs, fmt.Errorf("queues[%d].duplicates: %w", i, err))
		}
	}
	deps := trigger.Deps{Location: server.Location, Log: logx.Nop(), HTTP: trigger.NewHTTPClient(logx.Nop())}
	for _, p := range cfg.Projects {
		if _, err := trigger.BuildProject(p, deps); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) Manager() *manager.Manager { return a.mgr }

// HTTPAddr is the bound status server address, or "".
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return Validate(cfg)
	})

	consumer := metrics.NewConsumer(a.metrics, a.bus, a.log.With(logx.Component("metrics")))
	a.sup.Go("metrics.consume", consumer.Run)

	// Build outcomes at debug level; integrators log their own summaries.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.http = httpserver.New(a.httpCfg, httpserver.Deps{
		Controller: a.mgr,
		Gatherer:   a.prom,
		Runtime: map[string]*supervisor.Supervisor{
			"app":         a.sup,
			"integrators": a.builds,
		},
	}, a.logs.Logger().With(logx.Component("http")))
	if a.http.Enabled() {
		a.http.Start(a.sup.Context())
	}

	if err := a.mgr.StartAllProjects(); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	a.log.Info("app started",
		logx.Int("projects", len(a.cfgm.Get().Projects)),
		logx.String("queues", strings.Join(a.mgr.GetQueueNames(), ",")),
		logx.Duration("poll_interval", a.server.PollInterval),
	)
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, projects := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(projects) > 0 {
		a.log.Debug("project config changes detected", logx.Any("projects", projects))
	}

	for _, s := range sections {
		switch s {
		case "server", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	_ = systemd.Reloading()
	defer func() { _ = systemd.Ready() }()

	a.logs.Apply(mapLogConfig(newCfg))

	if hc, err := mapHTTPConfig(newCfg); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else if a.http != nil {
		a.http.Reconfigure(c, hc)
	}

	if slices.Contains(sections, "projects") || slices.Contains(sections, "queues") {
		rctx, cancel := context.WithTimeout(c, a.server.StopTimeout)
		err := a.mgr.Reconfigure(rctx, newCfg)
		cancel()
		if err != nil {
			a.log.Warn("project reconfiguration incomplete", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

// Stop lets running builds finish for up to server.stop_timeout, then aborts
// them, and releases every resource.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			// respect the caller's deadline; never extend it
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	step("projects", a.server.StopTimeout, func(c context.Context) error {
		return a.mgr.StopAllProjects(c, false)
	})
	// whatever survived the graceful window is aborted
	step("projects.abort", 5*time.Second, func(c context.Context) error {
		return a.mgr.StopAllProjects(c, true)
	})
	step("http", time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("integrators", 2*time.Second, func(c context.Context) error { return a.builds.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.state.Close() })
	if a.sup != nil {
		// Finally, wait for supervised goroutines (config watch/reload, metrics).
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
