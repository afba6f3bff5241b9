// Package manager is the IntegrationQueueManager: it owns the queue set and
// one integrator per configured project, and is what the CLI, the HTTP
// status endpoint and config reloads talk to.
package manager

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"cruise/internal/config"
	"cruise/internal/integrator"
	"cruise/internal/queue"
	"cruise/internal/storage"
	logx "cruise/pkg/logx"
)

var ErrUnknownProject = errors.New("unknown project")

type project struct {
	cfg   config.ProjectConfig
	integ *integrator.Integrator
}

// Manager is safe for concurrent use. Reads take the read lock only and
// never wait on a build.
type Manager struct {
	factory integrator.Factory
	state   storage.StateManager
	log     logx.Logger

	mu         sync.RWMutex
	cfg        *config.Config
	queues     *queue.Set
	projects   []*project
	byName     map[string]*project
	queueNames map[string]struct{}
	running    bool

	reconfMu sync.Mutex
}

// New builds one integrator per project in cfg. Integrators are created
// stopped; call StartAllProjects. state may be nil.
func New(factory integrator.Factory, cfg *config.Config, state storage.StateManager, log logx.Logger) (*Manager, error) {
	if factory == nil {
		return nil, errors.New("manager: factory required")
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	m := &Manager{
		factory: factory,
		state:   state,
		log:     log.With(logx.Component("manager")),
		cfg:     cfg,
		queues:  queue.NewSet(log.With(logx.Component("queue"))),
		byName:  map[string]*project{},
	}
	projects, err := m.build(cfg.Projects, nil)
	if err != nil {
		return nil, err
	}
	m.install(projects)
	return m, nil
}

// build creates integrators for ps, reusing keep[name] when present.
func (m *Manager) build(ps []config.ProjectConfig, keep map[string]*project) ([]*project, error) {
	out := make([]*project, 0, len(ps))
	for _, pc := range ps {
		if p, ok := keep[pc.Name]; ok {
			out = append(out, p)
			continue
		}
		qname := pc.QueueName()
		q, err := m.queueFor(qname)
		if err != nil {
			return nil, err
		}
		integ, err := m.factory.Create(pc, q)
		if err != nil {
			return nil, fmt.Errorf("project %q: %w", pc.Name, err)
		}
		m.seed(integ)
		out = append(out, &project{cfg: pc, integ: integ})
	}
	return out, nil
}

func (m *Manager) queueFor(name string) (*queue.Queue, error) {
	qc := m.cfg.FindQueueConfiguration(name)
	mode, err := queue.ParseDuplicateHandling(qc.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("queue %q: %w", name, err)
	}
	return m.queues.Add(name, queue.Config{Name: name, Duplicates: mode}), nil
}

// seed loads the project's last persisted result for snapshots.
func (m *Manager) seed(integ *integrator.Integrator) {
	if m.state == nil {
		return
	}
	ctx := context.Background()
	ok, err := m.state.HasPreviousState(ctx, integ.Name())
	if err != nil || !ok {
		if err != nil {
			m.log.Warn("previous state unavailable", logx.Project(integ.Name()), logx.Err(err))
		}
		return
	}
	r, err := m.state.LoadState(ctx, integ.Name())
	if err != nil {
		m.log.Warn("load state failed", logx.Project(integ.Name()), logx.Err(err))
		return
	}
	integ.Seed(r)
}

func (m *Manager) install(projects []*project) {
	m.projects = projects
	m.byName = make(map[string]*project, len(projects))
	m.queueNames = map[string]struct{}{}
	for _, p := range projects {
		m.byName[p.cfg.Name] = p
		m.queueNames[p.integ.QueueName()] = struct{}{}
	}
}

// GetQueueNames returns the distinct queue names in ordinal order.
func (m *Manager) GetQueueNames() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.queueNames))
	for n := range m.queueNames {
		names = append(names, n)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Queues exposes the IntegrationQueueSet.
func (m *Manager) Queues() *queue.Set { return m.queues }

// StartAllProjects starts every stopped integrator and re-registers the
// queue names a previous StopAllProjects cleared.
func (m *Manager) StartAllProjects() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	var errs []error
	for _, p := range m.projects {
		m.queueNames[p.integ.QueueName()] = struct{}{}
		if err := p.integ.Start(); err != nil && !errors.Is(err, integrator.ErrAlreadyRunning) {
			errs = append(errs, fmt.Errorf("start %s: %w", p.cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StopAllProjects stops every integrator concurrently and forgets the queue
// names. A graceful stop lets active builds finish and withdraws pending
// items; force also cancels every pending item up front and aborts active
// builds.
func (m *Manager) StopAllProjects(ctx context.Context, force bool) error {
	m.mu.Lock()
	m.running = false
	projects := append([]*project(nil), m.projects...)
	m.queueNames = map[string]struct{}{}
	m.mu.Unlock()

	if force {
		for _, name := range m.queues.Names() {
			if q := m.queues.Get(name); q != nil {
				q.CancelAll()
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range projects {
		integ := p.integ
		g.Go(func() error {
			if force {
				return integ.Abort(gctx)
			}
			return integ.Stop(gctx)
		})
	}
	err := g.Wait()
	m.log.Info("all projects stopped", logx.Bool("force", force), logx.Int("projects", len(projects)), logx.Err(err))
	return err
}

func (m *Manager) lookup(name string) (*integrator.Integrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, name)
	}
	return p.integ, nil
}

// Project returns the named project's integrator.
func (m *Manager) Project(name string) (*integrator.Integrator, error) {
	return m.lookup(name)
}

func (m *Manager) Start(name string) error {
	integ, err := m.lookup(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.queueNames[integ.QueueName()] = struct{}{}
	m.mu.Unlock()
	return integ.Start()
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	integ, err := m.lookup(name)
	if err != nil {
		return err
	}
	return integ.Stop(ctx)
}

func (m *Manager) Abort(ctx context.Context, name string) error {
	integ, err := m.lookup(name)
	if err != nil {
		return err
	}
	return integ.Abort(ctx)
}

// ForceBuild goes through the project's latch like any trigger request.
func (m *Manager) ForceBuild(name, source string, params map[string]string) error {
	integ, err := m.lookup(name)
	if err != nil {
		return err
	}
	if source == "" {
		source = "force"
	}
	if !integ.ForceBuild(source, params) {
		m.log.Debug("force build coalesced", logx.Project(name))
	}
	return nil
}

// AbortBuild reports whether a running build was cancelled.
func (m *Manager) AbortBuild(name string) (bool, error) {
	integ, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return integ.AbortBuild(), nil
}

// CancelPendingRequest reports whether a pending queue item was withdrawn.
func (m *Manager) CancelPendingRequest(name string) (bool, error) {
	integ, err := m.lookup(name)
	if err != nil {
		return false, err
	}
	return integ.CancelPendingRequest(), nil
}

// Reconfigure applies a changed configuration. Projects whose config and
// queue config are unchanged keep their integrator; changed ones are
// stopped gracefully (bounded by ctx) and rebuilt; removed ones are stopped.
// Queues nobody references any more are dropped.
func (m *Manager) Reconfigure(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("manager: nil config")
	}
	m.reconfMu.Lock()
	defer m.reconfMu.Unlock()

	m.mu.RLock()
	old := m.cfg
	current := append([]*project(nil), m.projects...)
	m.mu.RUnlock()

	keep := map[string]*project{}
	var retire []*project
	for _, p := range current {
		nc, ok := cfg.FindProject(p.cfg.Name)
		if ok && reflect.DeepEqual(nc, p.cfg) &&
			old.FindQueueConfiguration(p.integ.QueueName()) == cfg.FindQueueConfiguration(nc.QueueName()) {
			keep[p.cfg.Name] = p
			continue
		}
		retire = append(retire, p)
	}

	// stopping may wait on builds; readers must not
	var errs []error
	for _, p := range retire {
		if err := p.integ.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", p.cfg.Name, err))
			// ctx is done, so this only signals the abort
			_ = p.integ.Abort(ctx)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// queues whose configuration changed, or that nobody uses, go away
	used := map[string]bool{}
	for _, p := range keep {
		used[p.integ.QueueName()] = true
	}
	for _, name := range m.queues.Names() {
		if !used[name] {
			m.queues.Remove(name)
		}
	}

	m.cfg = cfg
	projects, err := m.build(cfg.Projects, keep)
	if err != nil {
		// keep what still works; the reload is reported as failed
		m.cfg = old
		errs = append(errs, err)
		survivors := make([]*project, 0, len(keep))
		for _, p := range m.projects {
			if _, ok := keep[p.cfg.Name]; ok {
				survivors = append(survivors, p)
			}
		}
		m.install(survivors)
		return errors.Join(errs...)
	}
	m.install(projects)

	if m.running {
		for _, p := range projects {
			if _, kept := keep[p.cfg.Name]; kept {
				continue
			}
			if err := p.integ.Start(); err != nil {
				errs = append(errs, fmt.Errorf("start %s: %w", p.cfg.Name, err))
			}
		}
	}
	m.log.Info("projects reconfigured",
		logx.Int("kept", len(keep)),
		logx.Int("retired", len(retire)),
		logx.Int("projects", len(projects)),
	)
	return errors.Join(errs...)
}
