package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithParametersCopiesOnAnnotate(t *testing.T) {
	orig := &Request{Condition: IfModificationExists, Source: "interval", Parameters: map[string]string{"a": "1"}}
	annotated := orig.WithParameters(map[string]string{"b": "2", "a": "override"})

	assert.Equal(t, map[string]string{"a": "1"}, orig.Parameters)
	assert.Equal(t, map[string]string{"a": "override", "b": "2"}, annotated.Parameters)
	assert.Equal(t, []string{"a", "b"}, annotated.ParameterNames())
}

func TestHigherPrefersFirstOnTie(t *testing.T) {
	a := &Request{Condition: ForceBuild, Source: "a"}
	b := &Request{Condition: ForceBuild, Source: "b"}
	c := &Request{Condition: IfModificationExists, Source: "c"}

	assert.Same(t, a, Higher(a, b))
	assert.Same(t, a, Higher(c, a))
	assert.Same(t, c, Higher(nil, c))
	assert.Nil(t, Higher(nil, nil))
}

func TestParseBuildCondition(t *testing.T) {
	c, err := ParseBuildCondition("forceBuild", NoBuild)
	assert.NoError(t, err)
	assert.Equal(t, ForceBuild, c)

	c, err = ParseBuildCondition("", IfModificationExists)
	assert.NoError(t, err)
	assert.Equal(t, IfModificationExists, c)

	_, err = ParseBuildCondition("sometimes", NoBuild)
	assert.Error(t, err)
}

func TestEnumsRoundTripAsText(t *testing.T) {
	var a Activity
	assert.NoError(t, a.UnmarshalText([]byte("checkingmodifications")))
	assert.Equal(t, CheckingModifications, a)
	assert.Error(t, a.UnmarshalText([]byte("Dozing")))

	var s IntegratorState
	b, _ := Stopping.MarshalText()
	assert.NoError(t, s.UnmarshalText(b))
	assert.Equal(t, Stopping, s)
	assert.Error(t, s.UnmarshalText([]byte("Paused")))
}
