package integration

import (
	"sort"
	"time"
)

// Request is an IntegrationRequest: why a build is wanted and who asked.
//
// Treat values as immutable once created; use WithParameters to annotate.
type Request struct {
	Condition  BuildCondition
	Source     string
	Parameters map[string]string
	At         time.Time
}

// NewRequest builds a request without parameters.
func NewRequest(cond BuildCondition, source string, at time.Time) *Request {
	return &Request{Condition: cond, Source: source, At: at}
}

// WithParameters returns a copy of r with params merged over its own.
// The receiver and its map are left untouched.
func (r *Request) WithParameters(params map[string]string) *Request {
	if r == nil {
		return nil
	}
	cp := *r
	merged := make(map[string]string, len(r.Parameters)+len(params))
	for k, v := range r.Parameters {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	cp.Parameters = merged
	return &cp
}

// ParameterNames returns the parameter keys in sorted order.
func (r *Request) ParameterNames() []string {
	if r == nil || len(r.Parameters) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Parameters))
	for k := range r.Parameters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Higher returns the stronger of a and b; a wins ties. Nil counts as weakest.
func Higher(a, b *Request) *Request {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Condition > a.Condition {
		return b
	}
	return a
}
