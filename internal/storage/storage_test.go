package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cruise/internal/integration"
	logx "cruise/pkg/logx"
)

func sampleResult(project, label string) IntegrationResult {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return IntegrationResult{
		Project:    project,
		Status:     integration.StatusSuccess,
		Label:      label,
		Condition:  integration.ForceBuild,
		Source:     "operator",
		Parameters: map[string]string{"target": "release"},
		StartedAt:  start,
		EndedAt:    start.Add(90 * time.Second),
	}
}

func exerciseStateManager(t *testing.T, sm StateManager) {
	t.Helper()
	ctx := context.Background()

	ok, err := sm.HasPreviousState(ctx, "api")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sm.LoadState(ctx, "api")
	assert.ErrorIs(t, err, ErrNoState)

	require.NoError(t, sm.SaveState(ctx, sampleResult("api", "1")))
	second := sampleResult("api", "2")
	second.Status = integration.StatusFailure
	second.Error = "exit status 2"
	require.NoError(t, sm.SaveState(ctx, second))

	ok, err = sm.HasPreviousState(ctx, "api")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := sm.LoadState(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Label)
	assert.Equal(t, integration.StatusFailure, got.Status)
	assert.Equal(t, integration.ForceBuild, got.Condition)
	assert.Equal(t, "exit status 2", got.Error)
	assert.Equal(t, map[string]string{"target": "release"}, got.Parameters)
	assert.True(t, got.StartedAt.Equal(second.StartedAt))
	assert.Equal(t, 90*time.Second, got.Duration())

	assert.Error(t, sm.SaveState(ctx, IntegrationResult{}))
}

func TestMemoryStateManager(t *testing.T) {
	sm, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	defer sm.Close()
	exerciseStateManager(t, sm)
}

func TestFileStateManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cruise.db")
	sm, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	exerciseStateManager(t, sm)
	require.NoError(t, sm.Close())

	// reopen replays the journal
	sm, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer sm.Close()
	got, err := sm.LoadState(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Label)

	history, err := os.ReadFile(filepath.Join(filepath.Dir(path), "cruise.history.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(history))
}

func TestFileStateManagerCompacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cruise.json")
	sm, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < fileCompactEvery; i++ {
		require.NoError(t, sm.SaveState(ctx, sampleResult("api", "x")))
	}
	require.NoError(t, sm.Close())

	journal, err := os.ReadFile(filepath.Join(filepath.Dir(path), "cruise.state.journal.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, journal)

	sm, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer sm.Close()
	ok, err := sm.HasPreviousState(ctx, "api")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStateManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cruise.sqlite")
	sm, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	exerciseStateManager(t, sm)
	require.NoError(t, sm.Close())

	sm, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer sm.Close()
	got, err := sm.LoadState(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "2", got.Label)
}

// Needs a live server: CRUISE_TEST_REDIS_ADDR=localhost:6379.
func TestRedisStateManager(t *testing.T) {
	addr := os.Getenv("CRUISE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRUISE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	prefix := "cruise-test:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	sm := NewRedis(client, prefix, logx.Nop())
	exerciseStateManager(t, sm)
	n, err := client.LLen(ctx, prefix+"api:history").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	assert.ErrorIs(t, err, ErrUnknownDriver)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
