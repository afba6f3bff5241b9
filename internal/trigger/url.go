package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sethgrid/pester"
	"golang.org/x/time/rate"

	"cruise/internal/clock"
	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

const (
	urlRequestTimeout = 10 * time.Second
	urlHeadRetries    = 3
	urlFailureLogRate = 5 * time.Minute
)

var errNoLastModified = errors.New("response has no Last-Modified header")

// NewHTTPClient returns the retrying client UrlTrigger uses by default.
func NewHTTPClient(log logx.Logger) *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = urlHeadRetries
	client.Timeout = urlRequestTimeout
	client.LogHook = func(e pester.ErrEntry) {
		log.Debug("url trigger retry",
			logx.String("url", e.URL),
			logx.Int("attempt", e.Attempt),
			logx.Err(e.Err),
		)
	}
	return client
}

// Url polls a resource every interval and fires only when its Last-Modified
// time moved past the last one a completed build saw. Poll failures count as
// "no build".
type Url struct {
	name      string
	clock     clock.Clock
	log       logx.Logger
	client    Doer
	url       string
	condition integration.BuildCondition
	interval  time.Duration

	// failures throttles poll-failure logs to one per urlFailureLogRate
	// (or per interval, if longer).
	failures *rate.Limiter

	mu           sync.Mutex
	anchor       time.Time
	polled       bool
	lastModified time.Time
	pending      time.Time
}

// UrlOptions configures NewUrl.
type UrlOptions struct {
	Name      string
	URL       string
	Condition integration.BuildCondition
	Interval  time.Duration
}

func NewUrl(opts UrlOptions, deps Deps) (*Url, error) {
	deps = deps.withDefaults()
	u, err := url.Parse(opts.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, configErrorf("url", err, "need an absolute http(s) url, got %q", opts.URL)
	}
	if opts.Interval <= 0 {
		return nil, configErrorf("interval", nil, "must be > 0, got %s", opts.Interval)
	}
	cond := opts.Condition
	if cond == integration.NoBuild {
		cond = integration.IfModificationExists
	}
	name := opts.Name
	if name == "" {
		name = "url " + u.Host
	}
	client := deps.HTTP
	if client == nil {
		client = NewHTTPClient(deps.Log)
	}
	return &Url{
		name:      name,
		clock:     deps.Clock,
		log:       deps.Log.With(logx.String("trigger", name), logx.String("url", opts.URL)),
		client:    client,
		url:       opts.URL,
		condition: cond,
		interval:  opts.Interval,
		failures:  rate.NewLimiter(rate.Every(max(opts.Interval, urlFailureLogRate)), 1),
		anchor:    deps.Clock.Now(),
	}, nil
}

func (t *Url) sealed() {}

func (t *Url) Name() string { return t.name }

// NextBuild is the next poll; the first poll happens immediately.
func (t *Url) NextBuild() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *Url) nextLocked() time.Time {
	if !t.polled {
		return t.anchor
	}
	return t.anchor.Add(t.interval)
}

func (t *Url) Fire(ctx context.Context) *integration.Request {
	now := t.clock.Now()
	t.mu.Lock()
	if !t.pending.IsZero() {
		// a change was seen and its build has not completed yet
		t.mu.Unlock()
		return integration.NewRequest(t.condition, t.name, now)
	}
	if now.Before(t.nextLocked()) {
		t.mu.Unlock()
		return nil
	}
	last := t.lastModified
	t.mu.Unlock()

	modified, err := t.head(ctx)
	if ctx.Err() != nil {
		// the owner is stopping; poll again on the next start
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.polled = true
	if err != nil {
		t.anchor = now
		if t.failures.AllowN(now, 1) {
			t.log.Warn("url poll failed", logx.Err(err))
		}
		return nil
	}
	if !modified.After(last) {
		t.anchor = now
		return nil
	}
	t.pending = modified
	return integration.NewRequest(t.condition, t.name, now)
}

func (t *Url) head(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, urlRequestTimeout*(urlHeadRetries+1))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.url, nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return time.Time{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, errNoLastModified
	}
	return http.ParseTime(lm)
}

// IntegrationCompleted commits the observed Last-Modified and restarts the
// interval.
func (t *Url) IntegrationCompleted() {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.pending.IsZero() {
		t.lastModified = t.pending
		t.pending = time.Time{}
	}
	t.anchor = now
	t.polled = true
}
