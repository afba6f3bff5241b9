package trigger

import (
	"context"
	"maps"
	"time"

	"cruise/internal/integration"
)

// Parameter adds fixed parameters to every request its inner trigger returns.
// The inner request is copied, never modified.
type Parameter struct {
	inner  Trigger
	params map[string]string
}

func NewParameter(inner Trigger, params map[string]string) (*Parameter, error) {
	if inner == nil {
		return nil, configErrorf("trigger", nil, "parameter trigger needs an inner trigger")
	}
	return &Parameter{inner: inner, params: maps.Clone(params)}, nil
}

func (t *Parameter) sealed() {}

func (t *Parameter) Name() string { return t.inner.Name() }

func (t *Parameter) Fire(ctx context.Context) *integration.Request {
	r := t.inner.Fire(ctx)
	if r == nil {
		return nil
	}
	return r.WithParameters(t.params)
}

func (t *Parameter) NextBuild() time.Time { return t.inner.NextBuild() }

func (t *Parameter) IntegrationCompleted() { t.inner.IntegrationCompleted() }
