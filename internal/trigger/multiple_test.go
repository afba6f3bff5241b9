package trigger

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/integration"
)

func TestMultipleAnd(t *testing.T) {
	m := NewMultiple("", And, firing("force", integration.ForceBuild), silent("none"))
	assert.Nil(t, m.Fire(t.Context()))

	m = NewMultiple("", And, firing("force", integration.ForceBuild), firing("mod", integration.IfModificationExists))
	r := m.Fire(t.Context())
	require.NotNil(t, r)
	assert.Equal(t, integration.ForceBuild, r.Condition)
	assert.Equal(t, "force", r.Source)
}

func TestMultipleAndEvaluatesEveryChild(t *testing.T) {
	a, b := silent("a"), firing("b", integration.ForceBuild)
	NewMultiple("", And, a, b).Fire(t.Context())
	assert.Equal(t, 1, a.fired)
	assert.Equal(t, 1, b.fired)
}

func TestMultipleOr(t *testing.T) {
	m := NewMultiple("", Or, silent("none"), firing("mod", integration.IfModificationExists), firing("force", integration.ForceBuild))
	r := m.Fire(t.Context())
	require.NotNil(t, r)
	assert.Equal(t, "force", r.Source)

	m = NewMultiple("", Or, firing("first", integration.IfModificationExists), firing("second", integration.IfModificationExists))
	assert.Equal(t, "first", m.Fire(t.Context()).Source, "ties go to evaluation order")

	assert.Nil(t, NewMultiple("", Or, silent("a"), silent("b")).Fire(t.Context()))
	assert.Nil(t, NewMultiple("", Or).Fire(t.Context()))
}

func TestMultipleNextBuildAndCompletion(t *testing.T) {
	a, b := silent("a"), silent("b")
	a.next, b.next = at(3, 0, 0), at(2, 0, 0)
	m := NewMultiple("", Or, a, b)
	assert.Equal(t, at(2, 0, 0), m.NextBuild())

	m.IntegrationCompleted()
	assert.Equal(t, 1, a.completed)
	assert.Equal(t, 1, b.completed)

	assert.Equal(t, Never, NewMultiple("", And).NextBuild())
}

func TestParseOperator(t *testing.T) {
	op, err := ParseOperator("AND")
	require.NoError(t, err)
	assert.Equal(t, And, op)
	op, err = ParseOperator("")
	require.NoError(t, err)
	assert.Equal(t, Or, op)
	_, err = ParseOperator("xor")
	assert.Error(t, err)
}

func childrenFor(conds []int) []Trigger {
	out := make([]Trigger, 0, len(conds))
	for i, c := range conds {
		if c == int(integration.NoBuild) {
			out = append(out, silent(string(rune('a'+i))))
			continue
		}
		out = append(out, firing(string(rune('a'+i)), integration.BuildCondition(c)))
	}
	return out
}

func TestMultipleOrReturnsStrongestChild(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("Or yields the maximum child condition", prop.ForAll(
		func(conds []int) bool {
			best := integration.NoBuild
			for _, c := range conds {
				if integration.BuildCondition(c) > best {
					best = integration.BuildCondition(c)
				}
			}
			r := NewMultiple("", Or, childrenFor(conds)...).Fire(t.Context())
			if best == integration.NoBuild {
				return r == nil
			}
			return r != nil && r.Condition == best
		},
		gen.SliceOf(gen.IntRange(int(integration.NoBuild), int(integration.ForceBuild))),
	))
	properties.TestingRun(t)
}

func TestMultipleAndNeverOutranksOr(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("And fires only when every child does, with the Or result", prop.ForAll(
		func(conds []int) bool {
			and := NewMultiple("", And, childrenFor(conds)...).Fire(t.Context())
			or := NewMultiple("", Or, childrenFor(conds)...).Fire(t.Context())
			all := true
			for _, c := range conds {
				if c == int(integration.NoBuild) {
					all = false
				}
			}
			if !all {
				return and == nil
			}
			if or == nil {
				return and == nil
			}
			return and != nil && and.Condition == or.Condition && and.Source == or.Source
		},
		gen.SliceOf(gen.IntRange(int(integration.NoBuild), int(integration.ForceBuild))),
	))
	properties.TestingRun(t)
}
