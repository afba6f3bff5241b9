package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
	"cruise/internal/storage"
	logx "cruise/pkg/logx"
)

const (
	outputTailBytes = 4 << 10
	killGrace       = 5 * time.Second
)

// CommandConfig describes the shell commands of one project.
type CommandConfig struct {
	Command      string
	CheckCommand string
	WorkDir      string
	Env          map[string]string
	Timeout      time.Duration
}

// Command runs a project's build through /bin/sh and records the result with
// the state manager. Labels are consecutive integers per project.
type Command struct {
	cfg   CommandConfig
	state storage.StateManager
	clock clock.Clock
	log   logx.Logger
}

func NewCommand(cfg CommandConfig, state storage.StateManager, c clock.Clock, log logx.Logger) *Command {
	if c == nil {
		c = clock.Real{}
	}
	return &Command{cfg: cfg, state: state, clock: c, log: log}
}

func (c *Command) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{StartedAt: c.clock.Now(), Status: integration.StatusUnknown}
	cond := integration.IfModificationExists
	if req.Request != nil {
		cond = req.Request.Condition
	}

	req.report(integration.CheckingModifications)
	if cond < integration.ForceBuild && strings.TrimSpace(c.cfg.CheckCommand) != "" {
		modified, err := c.checkModifications(ctx, req)
		if err != nil {
			return res, fmt.Errorf("check modifications: %w", err)
		}
		if !modified {
			res.EndedAt = c.clock.Now()
			c.log.Debug("no modifications; skipping build", logx.Project(req.Project))
			return res, nil
		}
	}

	if strings.TrimSpace(c.cfg.Command) == "" {
		return res, errors.New("no build command configured")
	}

	res.Label = c.nextLabel(ctx, req.Project)
	res.Built = true
	req.report(integration.Building)

	runCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	out, err := c.exec(runCtx, c.cfg.Command, req, res.Label)
	res.EndedAt = c.clock.Now()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Status = integration.StatusSuccess
	case ctx.Err() != nil:
		res.Status = integration.StatusCancelled
		res.Error = ctx.Err().Error()
	case runCtx.Err() != nil:
		res.Status = integration.StatusFailure
		res.Error = fmt.Sprintf("timed out after %s", c.cfg.Timeout)
	case errors.As(err, &exitErr):
		res.Status = integration.StatusFailure
		res.Error = err.Error()
	default:
		res.Status = integration.StatusException
		res.Error = err.Error()
	}
	if res.Status != integration.StatusSuccess {
		c.log.Info("build output tail", logx.Project(req.Project), logx.String("output", out))
	}

	c.save(req, res)
	return res, nil
}

func (c *Command) checkModifications(ctx context.Context, req Request) (bool, error) {
	_, err := c.exec(ctx, c.cfg.CheckCommand, req, "")
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return false, nil
	}
	return false, err
}

func (c *Command) exec(ctx context.Context, script string, req Request, label string) (string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Dir = c.cfg.WorkDir
	cmd.Env = c.environ(req, label)
	cmd.WaitDelay = killGrace
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := buf.Bytes()
	if len(out) > outputTailBytes {
		out = out[len(out)-outputTailBytes:]
	}
	return string(out), err
}

// environ exports the request as CRUISE_* variables on top of the daemon's
// environment and the project's env map.
func (c *Command) environ(req Request, label string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(c.cfg.Env))
	for k := range c.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+c.cfg.Env[k])
	}
	env = append(env, "CRUISE_PROJECT="+req.Project)
	if label != "" {
		env = append(env, "CRUISE_LABEL="+label)
	}
	if r := req.Request; r != nil {
		env = append(env,
			"CRUISE_BUILD_CONDITION="+r.Condition.String(),
			"CRUISE_REQUEST_SOURCE="+r.Source,
		)
		for _, name := range r.ParameterNames() {
			env = append(env, "CRUISE_PARAM_"+envName(name)+"="+r.Parameters[name])
		}
	}
	return env
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func (c *Command) nextLabel(ctx context.Context, project string) string {
	if c.state == nil {
		return "1"
	}
	prev, err := c.state.LoadState(ctx, project)
	if err != nil {
		if !errors.Is(err, storage.ErrNoState) {
			c.log.Warn("load previous state failed", logx.Project(project), logx.Err(err))
		}
		return "1"
	}
	n, err := strconv.Atoi(prev.Label)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}

func (c *Command) save(req Request, res Result) {
	if c.state == nil {
		return
	}
	r := storage.IntegrationResult{
		Project:   req.Project,
		Status:    res.Status,
		Label:     res.Label,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
		Error:     res.Error,
	}
	if req.Request != nil {
		r.Condition = req.Request.Condition
		r.Source = req.Request.Source
		r.Parameters = req.Request.Parameters
	}
	// the build context may already be cancelled; the result still counts
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.state.SaveState(ctx, r); err != nil {
		c.log.Warn("save state failed", logx.Project(req.Project), logx.Err(err))
	}
}
