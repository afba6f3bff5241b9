package app

import (
	"fmt"
	"strings"
	"time"

	"cruise/internal/config"
	"cruise/internal/integrator"
	"cruise/internal/observability/httpserver"
	logx "cruise/pkg/logx"
)

const defaultStopTimeout = 30 * time.Second

// serverSettings are the parsed server section. Changing them needs a restart.
type serverSettings struct {
	PollInterval time.Duration
	Location     *time.Location
	StopTimeout  time.Duration
}

func mapServerConfig(cfg *config.Config) (serverSettings, error) {
	poll, err := config.ParseDurationOrDefault("server.poll_interval", cfg.Server.PollInterval, integrator.DefaultPollInterval)
	if err != nil {
		return serverSettings{}, err
	}
	if poll <= 0 {
		return serverSettings{}, fmt.Errorf("server.poll_interval must be > 0")
	}
	stop, err := config.ParseDurationOrDefault("server.stop_timeout", cfg.Server.StopTimeout, defaultStopTimeout)
	if err != nil {
		return serverSettings{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Server.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return serverSettings{}, fmt.Errorf("server.timezone: invalid %q: %w", tz, err)
		}
	}
	return serverSettings{PollInterval: poll, Location: loc, StopTimeout: stop}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	// /debug/pprof/profile streams for 30s by default
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	return httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
