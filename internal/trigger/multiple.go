package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cruise/internal/integration"
)

type Operator int

const (
	Or Operator = iota
	And
)

func (o Operator) String() string {
	if o == And {
		return "And"
	}
	return "Or"
}

// ParseOperator accepts "and"/"or" in any case; empty means Or.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "or":
		return Or, nil
	case "and":
		return And, nil
	default:
		return Or, fmt.Errorf("unknown operator %q", s)
	}
}

// Multiple combines an ordered list of children.
//
// Or returns the strongest request any child returned; ties go to the child
// listed first. And returns nil unless every child returned a request, and
// then the strongest of them. Every child is evaluated on each Fire.
type Multiple struct {
	name     string
	operator Operator
	children []Trigger
}

func NewMultiple(name string, op Operator, children ...Trigger) *Multiple {
	if name == "" {
		name = "multiple"
	}
	return &Multiple{name: name, operator: op, children: append([]Trigger(nil), children...)}
}

func (t *Multiple) sealed() {}

func (t *Multiple) Name() string { return t.name }

func (t *Multiple) Operator() Operator { return t.operator }

func (t *Multiple) Fire(ctx context.Context) *integration.Request {
	var best *integration.Request
	missing := false
	for _, c := range t.children {
		r := c.Fire(ctx)
		if r == nil {
			missing = true
			continue
		}
		best = integration.Higher(best, r)
	}
	if t.operator == And && missing {
		return nil
	}
	return best
}

// NextBuild is the earliest child estimate, or Never with no children.
func (t *Multiple) NextBuild() time.Time {
	next := Never
	for _, c := range t.children {
		next = earliest(next, c.NextBuild())
	}
	return next
}

func (t *Multiple) IntegrationCompleted() {
	for _, c := range t.children {
		c.IntegrationCompleted()
	}
}
