package integrator

import (
	"fmt"
	"time"

	"cruise/internal/clock"
	"cruise/internal/config"
	"cruise/internal/eventbus"
	"cruise/internal/pipeline"
	"cruise/internal/queue"
	"cruise/internal/runtime/supervisor"
	"cruise/internal/storage"
	"cruise/internal/trigger"
	logx "cruise/pkg/logx"
)

// Factory builds one Integrator per configured project.
type Factory interface {
	Create(p config.ProjectConfig, q *queue.Queue) (*Integrator, error)
}

// PipelineFunc chooses the pipeline of a project.
type PipelineFunc func(p config.ProjectConfig) (pipeline.Pipeline, error)

// Deps are shared by every integrator a factory builds.
type Deps struct {
	Clock        clock.Clock
	Location     *time.Location
	PollInterval time.Duration
	Log          logx.Logger
	Bus          eventbus.Bus
	Supervisor   *supervisor.Supervisor
	HTTP         trigger.Doer
	State        storage.StateManager
	// Pipeline overrides the shell command pipeline.
	Pipeline PipelineFunc
}

type factory struct {
	deps Deps
}

func NewFactory(deps Deps) Factory {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.HTTP == nil {
		deps.HTTP = trigger.NewHTTPClient(deps.Log)
	}
	return &factory{deps: deps}
}

func (f *factory) Create(p config.ProjectConfig, q *queue.Queue) (*Integrator, error) {
	trig, err := trigger.BuildProject(p, trigger.Deps{
		Clock:    f.deps.Clock,
		Location: f.deps.Location,
		Log:      f.deps.Log.With(logx.Component("trigger"), logx.Project(p.Name)),
		HTTP:     f.deps.HTTP,
	})
	if err != nil {
		return nil, err
	}

	var pl pipeline.Pipeline
	if f.deps.Pipeline != nil {
		pl, err = f.deps.Pipeline(p)
	} else {
		pl, err = f.command(p)
	}
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", p.Name, err)
	}

	return New(Options{
		Name:          p.Name,
		QueuePriority: p.QueuePriority,
		Trigger:       trig,
		Queue:         q,
		Pipeline:      pl,
		Clock:         f.deps.Clock,
		PollInterval:  f.deps.PollInterval,
		Log:           f.deps.Log,
		Bus:           f.deps.Bus,
		Supervisor:    f.deps.Supervisor,
	})
}

func (f *factory) command(p config.ProjectConfig) (pipeline.Pipeline, error) {
	timeout, err := config.ParseDurationField("timeout", p.Timeout)
	if err != nil {
		return nil, err
	}
	return pipeline.NewCommand(pipeline.CommandConfig{
		Command:      p.Command,
		CheckCommand: p.CheckCommand,
		WorkDir:      p.WorkDir,
		Env:          p.Env,
		Timeout:      timeout,
	}, f.deps.State, f.deps.Clock, f.deps.Log.With(logx.Component("pipeline"), logx.Project(p.Name))), nil
}
