package storage

import (
	"context"
	"errors"
	"time"

	"cruise/internal/integration"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNoState is returned by LoadState for a project that never built.
	ErrNoState = errors.New("no previous state")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// Config configures storage.
//
// If Driver is empty or "none", state is kept in memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// redis only
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// IntegrationResult is the persisted outcome of one integration.
// Keep it compact and schema-stable.
type IntegrationResult struct {
	Project    string                     `json:"project"`
	Status     integration.BuildStatus    `json:"status"`
	Label      string                     `json:"label"`
	Condition  integration.BuildCondition `json:"condition"`
	Source     string                     `json:"source,omitempty"`
	Parameters map[string]string          `json:"parameters,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	EndedAt    time.Time                  `json:"ended_at"`
	Error      string                     `json:"error,omitempty"`
}

func (r IntegrationResult) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// StateManager is the ProjectStateManager.
type StateManager interface {
	HasPreviousState(ctx context.Context, project string) (bool, error)
	// LoadState returns ErrNoState if the project has no saved result.
	LoadState(ctx context.Context, project string) (IntegrationResult, error)
	SaveState(ctx context.Context, r IntegrationResult) error
	Close() error
}
