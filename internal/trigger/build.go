package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cruise/internal/config"
	"cruise/internal/integration"
)

// Build constructs the trigger tree described by cfg. Every error is a
// *ConfigError.
func Build(cfg config.TriggerConfig, deps Deps) (Trigger, error) {
	return build("trigger", cfg, deps.withDefaults())
}

// BuildProject combines a project's triggers with Or. A project without
// triggers builds only when forced.
func BuildProject(p config.ProjectConfig, deps Deps) (Trigger, error) {
	deps = deps.withDefaults()
	children := make([]Trigger, 0, len(p.Triggers))
	for i, tc := range p.Triggers {
		t, err := build(fmt.Sprintf("projects[%s].triggers[%d]", p.Name, i), tc, deps)
		if err != nil {
			return nil, err
		}
		children = append(children, t)
	}
	return NewMultiple(p.Name, Or, children...), nil
}

func build(path string, cfg config.TriggerConfig, deps Deps) (Trigger, error) {
	cond, err := integration.ParseBuildCondition(cfg.BuildCondition, integration.IfModificationExists)
	if err != nil {
		return nil, configErrorf(path+".build_condition", err, "bad build condition")
	}

	var t Trigger
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "interval":
		interval, initial, derr := intervals(path, cfg)
		if derr != nil {
			return nil, derr
		}
		t, err = NewInterval(cfg.Name, deps.Clock, cond, interval, initial)

	case "schedule":
		offset, derr := duration(path+".random_offset", cfg.RandomOffset)
		if derr != nil {
			return nil, derr
		}
		t, err = NewSchedule(ScheduleOptions{
			Name:         cfg.Name,
			Condition:    cond,
			Time:         cfg.Time,
			Weekdays:     cfg.Weekdays,
			RandomOffset: offset,
		}, deps.Clock, deps.Location)

	case "cron":
		t, err = NewCron(cfg.Name, cfg.Cron, cond, deps.Clock, deps.Location)

	case "url":
		interval, derr := duration(path+".interval", cfg.Interval)
		if derr != nil {
			return nil, derr
		}
		t, err = NewUrl(UrlOptions{Name: cfg.Name, URL: cfg.URL, Condition: cond, Interval: interval}, deps)

	case "filter":
		inner, ierr := buildInner(path, cfg, deps)
		if ierr != nil {
			return nil, ierr
		}
		t, err = NewFilter(FilterOptions{
			Name:      cfg.Name,
			StartTime: cfg.StartTime,
			EndTime:   cfg.EndTime,
			Weekdays:  cfg.Weekdays,
		}, inner, deps.Clock, deps.Location)

	case "parameter":
		inner, ierr := buildInner(path, cfg, deps)
		if ierr != nil {
			return nil, ierr
		}
		t, err = NewParameter(inner, cfg.Parameters)

	case "multiple":
		op, oerr := ParseOperator(cfg.Operator)
		if oerr != nil {
			return nil, configErrorf(path+".operator", oerr, "bad operator")
		}
		children := make([]Trigger, 0, len(cfg.Triggers))
		for i, cc := range cfg.Triggers {
			c, cerr := build(fmt.Sprintf("%s.triggers[%d]", path, i), cc, deps)
			if cerr != nil {
				return nil, cerr
			}
			children = append(children, c)
		}
		t = NewMultiple(cfg.Name, op, children...)

	default:
		return nil, configErrorf(path+".type", nil, "unknown trigger type %q", cfg.Type)
	}
	if err != nil {
		return nil, qualify(path, err)
	}
	return t, nil
}

func buildInner(path string, cfg config.TriggerConfig, deps Deps) (Trigger, error) {
	if cfg.Trigger == nil {
		return nil, configErrorf(path+".trigger", nil, "%s trigger needs an inner trigger", cfg.Type)
	}
	return build(path+".trigger", *cfg.Trigger, deps)
}

func intervals(path string, cfg config.TriggerConfig) (time.Duration, time.Duration, error) {
	interval, err := duration(path+".interval", cfg.Interval)
	if err != nil {
		return 0, 0, err
	}
	initial, err := duration(path+".initial_interval", cfg.InitialInterval)
	if err != nil {
		return 0, 0, err
	}
	return interval, initial, nil
}

func duration(path, raw string) (time.Duration, error) {
	d, err := config.ParseDurationField(path, raw)
	if err != nil {
		return 0, &ConfigError{Path: path, Reason: fmt.Sprintf("invalid duration %q", raw)}
	}
	return d, nil
}

// qualify prefixes the field path a constructor reported with the tree path.
func qualify(path string, err error) error {
	var ce *ConfigError
	if errors.As(err, &ce) {
		cp := *ce
		if cp.Path == "" {
			cp.Path = path
		} else {
			cp.Path = path + "." + cp.Path
		}
		return &cp
	}
	return &ConfigError{Path: path, Reason: "invalid trigger", Err: err}
}
