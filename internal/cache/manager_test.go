package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	manager, err := NewManager(Config{
		Enabled:    true,
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestManager_SetAndGet(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	key := Key("what is the capital of France", map[string]float64{"glm-4": 1.0})
	require.NoError(t, manager.SetSynthesis(ctx, key, "Paris.", 0))

	text, found, err := manager.GetSynthesis(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Paris.", text)
}

func TestManager_GetMiss(t *testing.T) {
	_, manager := setupTestRedis(t)

	_, found, err := manager.GetSynthesis(context.Background(), "ensembleflow:synthesis:nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_TTLExpiry(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	key := Key("p", map[string]float64{"m": 1})
	require.NoError(t, manager.SetSynthesis(ctx, key, "v", 5*time.Second))

	mr.FastForward(6 * time.Second)

	_, found, err := manager.GetSynthesis(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManager_ClosedOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())

	_, _, err := manager.GetSynthesis(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, manager.SetSynthesis(context.Background(), "k", "v", 0))
	assert.Error(t, manager.HealthCheck(context.Background()))

	// Second close is a no-op.
	assert.NoError(t, manager.Close())
}

func TestKey_StableAcrossMapOrder(t *testing.T) {
	a := Key("prompt", map[string]float64{"a": 1, "b": 2, "c": 0.5})
	b := Key("prompt", map[string]float64{"c": 0.5, "b": 2, "a": 1})
	assert.Equal(t, a, b)

	c := Key("prompt", map[string]float64{"a": 1, "b": 2, "c": 0.6})
	assert.NotEqual(t, a, c)
}
