package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the whole server configuration file.
//
// JSON and YAML are both accepted; YAML is coerced to JSON and decoded with
// DisallowUnknownFields so typos surface at load time.
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Server   ServerConfig    `json:"server"`
	HTTP     HTTPConfig      `json:"http,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Queues   []QueueConfig   `json:"queues,omitempty"`
	Projects []ProjectConfig `json:"projects"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig controls the integrator loops.
//
// Durations are Go duration strings (e.g. "15s", "1m").
type ServerConfig struct {
	// PollInterval caps how long an idle integrator sleeps between trigger
	// polls. Default 15s.
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone is the IANA zone schedule/cron/filter triggers evaluate in.
	Timezone string `json:"timezone,omitempty"`
	// StopTimeout bounds a graceful stop before the daemon aborts builds.
	StopTimeout string `json:"stop_timeout,omitempty"`
}

// HTTPConfig controls the optional status/metrics server.
//
// Security note: prefer binding to localhost. A non-loopback address needs a
// token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8099"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// StorageConfig selects the project state backend.
//
// Example:
//
//	storage: { driver: sqlite, path: ./state/cruise.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only

	// redis only
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// QueueConfig is a QueueConfiguration entry.
type QueueConfig struct {
	Name string `json:"name"`
	// Duplicates is the duplicate handling mode; empty means UseFirst.
	Duplicates string `json:"duplicates,omitempty"`
}

// ProjectConfig describes one project and the triggers that drive it.
type ProjectConfig struct {
	Name string `json:"name"`
	// Queue defaults to the project name.
	Queue         string `json:"queue,omitempty"`
	QueuePriority int    `json:"queue_priority,omitempty"`

	// Build collaborator settings. CheckCommand, if set, decides whether an
	// IfModificationExists request builds: exit 0 means "modified".
	Command      string            `json:"command,omitempty"`
	CheckCommand string            `json:"check_command,omitempty"`
	WorkDir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Timeout      string            `json:"timeout,omitempty"`

	// Triggers are combined with Or. No triggers means force builds only.
	Triggers []TriggerConfig `json:"triggers,omitempty"`
}

// QueueName returns the effective queue for the project.
func (p ProjectConfig) QueueName() string {
	if q := strings.TrimSpace(p.Queue); q != "" {
		return q
	}
	return strings.TrimSpace(p.Name)
}

// TriggerConfig is one node of a trigger tree. Which fields apply depends on
// Type: interval, schedule, cron, url, filter, multiple, parameter.
type TriggerConfig struct {
	Type           string `json:"type"`
	Name           string `json:"name,omitempty"`
	BuildCondition string `json:"build_condition,omitempty"`

	// interval, url
	Interval        string `json:"interval,omitempty"`
	InitialInterval string `json:"initial_interval,omitempty"`
	URL             string `json:"url,omitempty"`

	// schedule
	Time         string `json:"time,omitempty"`
	RandomOffset string `json:"random_offset,omitempty"`

	// schedule, filter
	Weekdays []string `json:"weekdays,omitempty"`

	// cron
	Cron string `json:"cron,omitempty"`

	// filter
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`

	// filter, parameter
	Trigger *TriggerConfig `json:"trigger,omitempty"`

	// multiple
	Operator string          `json:"operator,omitempty"`
	Triggers []TriggerConfig `json:"triggers,omitempty"`

	// parameter
	Parameters map[string]string `json:"parameters,omitempty"`
}

// FindQueueConfiguration returns the configured queue entry, or a UseFirst
// default for names nobody configured.
func (c *Config) FindQueueConfiguration(name string) QueueConfig {
	if c != nil {
		for _, q := range c.Queues {
			if q.Name == name {
				return q
			}
		}
	}
	return QueueConfig{Name: name, Duplicates: "UseFirst"}
}

// FindProject returns the named project.
func (c *Config) FindProject(name string) (ProjectConfig, bool) {
	if c == nil {
		return ProjectConfig{}, false
	}
	for _, p := range c.Projects {
		if p.Name == name {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

// Validate checks structural rules that don't need the trigger builder.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	seen := map[string]struct{}{}
	for i, p := range c.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("projects[%d]: name required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("projects[%d]: duplicate project name %q", i, name))
		}
		seen[name] = struct{}{}
		if _, err := ParseDurationField(fmt.Sprintf("projects[%d].timeout", i), p.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	qseen := map[string]struct{}{}
	for i, q := range c.Queues {
		if strings.TrimSpace(q.Name) == "" {
			errs = append(errs, fmt.Errorf("queues[%d]: name required", i))
			continue
		}
		if _, dup := qseen[q.Name]; dup {
			errs = append(errs, fmt.Errorf("queues[%d]: duplicate queue name %q", i, q.Name))
		}
		qseen[q.Name] = struct{}{}
	}
	if _, err := ParseDurationField("server.poll_interval", c.Server.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("server.stop_timeout", c.Server.StopTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
