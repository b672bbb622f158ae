package ensembleflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ensembleflow/orchestrator"
)

func TestNew_RequiresModels(t *testing.T) {
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one model")
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	_, err := New(WithModels("glm-4"), WithPolicy("sometimes"))
	require.Error(t, err)
}

func TestNew_RunsEndToEnd(t *testing.T) {
	orch, err := New(
		WithModels("glm-4", "qwen-max"),
		WithWeights(map[string]float64{"glm-4": 2.0}),
		WithCapacity(2),
		WithCallTimeout(5*time.Second),
		WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text, failures, err := orch.RunBatch(ctx, orchestrator.Request{Prompt: "compare both options"})
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.NotEmpty(t, text)
}
