// Package pipeline runs an admitted integration request. The scheduler only
// needs the Pipeline interface; Command is the shell-command implementation
// the daemon wires in.
package pipeline

//go:generate mockgen -source=pipeline.go -package=pipeline -destination=pipeline_mock.go

import (
	"context"
	"time"

	"cruise/internal/integration"
)

// Request is what the integrator hands to a pipeline.
type Request struct {
	Project string
	Request *integration.Request
	// Progress is called as the pipeline moves between activities. May be nil.
	Progress func(integration.Activity)
}

func (r Request) report(a integration.Activity) {
	if r.Progress != nil {
		r.Progress(a)
	}
}

// Result is the outcome of one Run.
type Result struct {
	Status integration.BuildStatus
	Label  string
	// Built is false when an IfModificationExists request found nothing to do.
	Built     bool
	StartedAt time.Time
	EndedAt   time.Time
	Error     string
}

// Pipeline is the build collaborator. A returned error means the pipeline
// itself broke; the integrator records it as an Exception and carries on.
type Pipeline interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Pipeline.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Run(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }
