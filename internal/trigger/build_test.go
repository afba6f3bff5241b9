package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/config"
	"cruise/internal/integration"
)

func TestBuildTree(t *testing.T) {
	c := newClock(at(1, 23, 30))
	cfg := config.TriggerConfig{
		Type:     "multiple",
		Operator: "or",
		Triggers: []config.TriggerConfig{
			{
				Type:      "filter",
				StartTime: "19:00",
				EndTime:   "07:00",
				Trigger:   &config.TriggerConfig{Type: "interval", Interval: "1m"},
			},
			{
				Type:       "parameter",
				Parameters: map[string]string{"kind": "nightly"},
				Trigger: &config.TriggerConfig{
					Type:           "schedule",
					Name:           "nightly",
					Time:           "23:00",
					BuildCondition: "ForceBuild",
				},
			},
			{Type: "cron", Cron: "0 12 * * MON-FRI"},
		},
	}

	tr, err := Build(cfg, Deps{Clock: c, Location: time.UTC})
	require.NoError(t, err)
	m, ok := tr.(*Multiple)
	require.True(t, ok)
	assert.Equal(t, Or, m.Operator())

	// the interval is blacked out; the schedule slot at 23:00 tomorrow has
	// not come yet, so nothing fires.
	assert.Nil(t, tr.Fire(t.Context()))

	c.Set(at(2, 23, 5))
	r := tr.Fire(t.Context())
	require.NotNil(t, r)
	assert.Equal(t, integration.ForceBuild, r.Condition)
	assert.Equal(t, "nightly", r.Source)
	assert.Equal(t, map[string]string{"kind": "nightly"}, r.Parameters)

	tr.IntegrationCompleted()
	assert.Nil(t, tr.Fire(t.Context()))
}

func TestBuildProjectWithoutTriggers(t *testing.T) {
	tr, err := BuildProject(config.ProjectConfig{Name: "manual"}, Deps{Clock: newClock(at(1, 0, 0))})
	require.NoError(t, err)
	assert.Nil(t, tr.Fire(t.Context()))
	assert.Equal(t, Never, tr.NextBuild())
	assert.Equal(t, "manual", tr.Name())
}

func TestBuildErrorsCarryPath(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TriggerConfig
		path string
	}{
		{"unknown type", config.TriggerConfig{Type: "webhook"}, "trigger.type"},
		{"bad condition", config.TriggerConfig{Type: "interval", Interval: "1m", BuildCondition: "Maybe"}, "trigger.build_condition"},
		{"bad duration", config.TriggerConfig{Type: "interval", Interval: "often"}, "trigger.interval"},
		{"zero interval", config.TriggerConfig{Type: "interval"}, "trigger.interval"},
		{"bad time", config.TriggerConfig{Type: "schedule", Time: "24:00"}, "trigger.time"},
		{"midnight offset", config.TriggerConfig{Type: "schedule", Time: "23:50", RandomOffset: "15m"}, "trigger.random_offset"},
		{"bad cron", config.TriggerConfig{Type: "cron", Cron: "every day"}, "trigger.cron"},
		{"missing inner", config.TriggerConfig{Type: "filter", StartTime: "1:00", EndTime: "2:00"}, "trigger.trigger"},
		{"bad operator", config.TriggerConfig{Type: "multiple", Operator: "xor"}, "trigger.operator"},
		{
			"nested",
			config.TriggerConfig{Type: "multiple", Triggers: []config.TriggerConfig{
				{Type: "interval", Interval: "1m"},
				{Type: "parameter", Trigger: &config.TriggerConfig{Type: "cron", Cron: "bad"}},
			}},
			"trigger.triggers[1].trigger.cron",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.cfg, Deps{Clock: newClock(at(1, 0, 0)), Location: time.UTC})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfiguration))
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.path, ce.Path)
		})
	}
}
