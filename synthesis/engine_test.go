package synthesis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/ensembleflow/internal/pool"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(DefaultConfig(), nil, zaptest.NewLogger(t))
}

func TestSynthesizeEmpty(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Synthesize(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Equal(t, StrategyEmpty, res.Strategy)
}

func TestSynthesizeSingleVerbatim(t *testing.T) {
	e := newTestEngine(t)

	text := "  已经规范化过的回答。\n\n保持原样，不做任何二次处理。  "
	res, err := e.Synthesize(context.Background(), map[string]string{"glm-4": text}, nil)
	require.NoError(t, err)
	assert.Equal(t, text, res.Text)
	assert.Equal(t, StrategySingle, res.Strategy)
}

func TestSynthesizeSingleIdentityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := NewEngine(DefaultConfig(), nil, nil)
		text := rapid.String().Draw(t, "text")

		res, err := e.Synthesize(context.Background(), map[string]string{"m": text}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.Text != text {
			t.Fatalf("single entry not returned byte-for-byte: %q != %q", res.Text, text)
		}
	})
}

func TestSynthesizeDominantShortcut(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": "x", "b": "y"},
		map[string]float64{"a": 10.0, "b": 1.0})
	require.NoError(t, err)
	assert.Equal(t, "x", res.Text)
	assert.Equal(t, StrategyDominant, res.Strategy)
}

func TestSynthesizeTwoEntryDedupe(t *testing.T) {
	e := newTestEngine(t)

	// 两份响应 95% 相同：共享句只保留一次
	a := "Go is a statically typed compiled language. It has garbage collection built in. Concurrency uses goroutines and channels."
	b := "Go is a statically typed compiled language. It has garbage collection built in. The standard library is famously extensive and practical."

	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": a, "b": b},
		map[string]float64{"a": 1.0, "b": 1.0})
	require.NoError(t, err)
	assert.Equal(t, StrategyWeightedMerge, res.Strategy)

	assert.Equal(t, 1, strings.Count(res.Text, "statically typed compiled language"))
	assert.Equal(t, 1, strings.Count(res.Text, "garbage collection"))
	assert.Contains(t, res.Text, "goroutines and channels")
	assert.Contains(t, res.Text, "famously extensive")
}

func TestSynthesizeManyWithUniquePoints(t *testing.T) {
	e := newTestEngine(t)

	base := "Use context for cancellation. Always check returned errors."
	res, err := e.Synthesize(context.Background(),
		map[string]string{
			"a": base,
			"b": "Prefer composition over inheritance when designing types in large programs.",
			"c": "Benchmark before optimizing anything, the bottleneck is rarely where you expect.",
		},
		map[string]float64{"a": 3.0, "b": 2.0, "c": 1.0})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.Text, base))
	assert.Contains(t, res.Text, "## Further considerations")
	assert.Contains(t, res.Text, "- Prefer composition over inheritance")
	assert.Contains(t, res.Text, "- Benchmark before optimizing")
}

func TestSynthesizeManyNoUniquePoints(t *testing.T) {
	e := newTestEngine(t)

	same := "Always check returned errors before using the result value."
	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": same, "b": same, "c": same},
		map[string]float64{"a": 3.0, "b": 2.0, "c": 1.0})
	require.NoError(t, err)

	assert.Equal(t, same, res.Text)
	assert.NotContains(t, res.Text, "Further considerations")
}

func TestSynthesizeOffloadsToWorker(t *testing.T) {
	workers := pool.NewWorkerPool(pool.WorkerPoolConfig{Workers: 2, QueueSize: 8})
	defer workers.Close()

	e := NewEngine(DefaultConfig(), workers, zaptest.NewLogger(t))

	big := strings.Repeat("很长的回答段落。", 800)
	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": big, "b": "短回答。"},
		map[string]float64{"a": 10.0, "b": 1.0})
	require.NoError(t, err)
	assert.Equal(t, routeWorker, res.Route)
	assert.Equal(t, big, res.Text)
	assert.GreaterOrEqual(t, workers.Stats().Completed, int64(1))
}

func TestSynthesizeInlineWithoutPool(t *testing.T) {
	e := newTestEngine(t)

	big := strings.Repeat("x", 6000)
	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": big},
		nil)
	require.NoError(t, err)
	assert.Equal(t, routeInline, res.Route)
	assert.Equal(t, big, res.Text)
}

func TestSynthesizeMissingWeightDefaultsToOne(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Synthesize(context.Background(),
		map[string]string{"a": "x", "b": "y"},
		map[string]float64{"a": 2.5})
	require.NoError(t, err)
	// 2.5 > 1.0*2.0：支配捷径生效
	assert.Equal(t, "x", res.Text)
	assert.Equal(t, StrategyDominant, res.Strategy)
}
