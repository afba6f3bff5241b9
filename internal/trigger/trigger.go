// Package trigger decides when a project should build.
//
// Leaves (Interval, Schedule, Cron, Url) look at time and remote state;
// Filter and Parameter decorate one inner trigger; Multiple combines an
// ordered list with And/Or. Fire never advances schedule state (except where
// a variant documents it); IntegrationCompleted does.
//
// Fire and IntegrationCompleted are called from the owning integrator loop.
// NextBuild may be read concurrently by snapshot callers.
package trigger

import (
	"context"
	"net/http"
	"time"

	"cruise/internal/clock"
	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

// Trigger is the closed set of variants in this package.
type Trigger interface {
	// Name is used as the Source of the requests the trigger produces.
	Name() string
	// Fire returns a request if a build is wanted now, nil otherwise. A
	// cancelled ctx abandons any remote check and yields nil.
	Fire(ctx context.Context) *integration.Request
	// NextBuild is the best estimate of when Fire will next return a request.
	NextBuild() time.Time
	// IntegrationCompleted acknowledges a finished build.
	IntegrationCompleted()

	sealed()
}

// Never is the NextBuild of a trigger that will not fire on its own.
var Never = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// Doer is the HTTP client UrlTrigger uses; *pester.Client and *http.Client
// both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Deps carries the capabilities triggers are built with.
type Deps struct {
	Clock    clock.Clock
	Location *time.Location
	Log      logx.Logger
	HTTP     Doer
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return d
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}
