package storage

import (
	"fmt"
	"strings"

	logx "cruise/pkg/logx"
)

type opener func(cfg Config, log logx.Logger) (StateManager, error)

var drivers = map[string]opener{
	"":        openMemory,
	"none":    openMemory,
	"memory":  openMemory,
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"redis":   openRedis,
}

// Open returns the state manager for cfg.Driver. An empty driver keeps
// state in memory for the life of the process.
func Open(cfg Config, log logx.Logger) (StateManager, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	open, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
	return open(cfg, log.With(logx.String("driver", name)))
}

func openMemory(_ Config, log logx.Logger) (StateManager, error) {
	log.Debug("project state kept in memory")
	return NewMemory(), nil
}
