package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/fanout"
	"github.com/BaSui01/ensembleflow/internal/cache"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/tokens"
	"github.com/BaSui01/ensembleflow/synthesis"
	"github.com/BaSui01/ensembleflow/types"
)

// 合成分片目标大小（字符数）
const synthesisChunkRunes = 512

// Request 一次编排请求。
type Request struct {
	ConversationID string
	Prompt         string
	Models         []string
	Weights        map[string]float64
	Mode           string
}

// Options 编排器依赖与默认值。
type Options struct {
	// DefaultModels 请求未指定模型时使用
	DefaultModels []string
	// DefaultWeights 模型默认权重，请求级权重覆盖
	DefaultWeights map[string]float64
	// CacheTTL 合成结果缓存时长，0 使用缓存层默认值
	CacheTTL time.Duration
}

// Orchestrator 驱动一轮完整的多模型聚合：扇出调用、归集、合成，
// 并以规范化事件序列对外汇报全程。
type Orchestrator struct {
	registry    *Registry
	coordinator *fanout.Coordinator
	engine      *synthesis.Engine
	estimator   tokens.Estimator
	cache       *cache.Manager
	metrics     *metrics.Collector
	logger      *zap.Logger
	opts        Options
}

// New 创建编排器。cache 与 metrics 可为 nil。
func New(
	registry *Registry,
	coordinator *fanout.Coordinator,
	engine *synthesis.Engine,
	estimator tokens.Estimator,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if estimator == nil {
		estimator = tokens.CharEstimator{}
	}
	return &Orchestrator{
		registry:    registry,
		coordinator: coordinator,
		engine:      engine,
		estimator:   estimator,
		opts:        opts,
		logger:      logger.With(zap.String("component", "orchestrator")),
	}
}

// WithCache 挂接合成结果缓存。
func (o *Orchestrator) WithCache(c *cache.Manager) *Orchestrator {
	o.cache = c
	return o
}

// WithMetrics 挂接指标收集器。
func (o *Orchestrator) WithMetrics(m *metrics.Collector) *Orchestrator {
	o.metrics = m
	return o
}

// resolve 补全请求的模型列表与权重。
func (o *Orchestrator) resolve(req Request) ([]string, map[string]float64) {
	models := req.Models
	if len(models) == 0 {
		models = o.opts.DefaultModels
	}
	if len(models) == 0 {
		models = o.registry.Names()
	}

	weights := make(map[string]float64, len(models))
	for _, m := range models {
		if w, ok := o.opts.DefaultWeights[m]; ok && w > 0 {
			weights[m] = w
		} else {
			weights[m] = 1.0
		}
	}
	for m, w := range req.Weights {
		if w > 0 {
			weights[m] = w
		}
	}
	return models, weights
}

// selectStrategy 依据模型数与权重分布选择合并策略。
func (o *Orchestrator) selectStrategy(models []string, weights map[string]float64) string {
	if len(models) == 1 {
		return synthesis.StrategySingle
	}
	top, second := 0.0, 0.0
	for _, m := range models {
		w := weights[m]
		if w > top {
			top, second = w, top
		} else if w > second {
			second = w
		}
	}
	if second > 0 && top > second*2 {
		return synthesis.StrategyDominant
	}
	return synthesis.StrategyWeightedMerge
}

// emitter 串行化并发模型协程的事件发射。
type emitter struct {
	mu   sync.Mutex
	emit func(types.StreamEvent)
}

func (e *emitter) send(ev types.StreamEvent) {
	ev.Timestamp = time.Now()
	e.mu.Lock()
	e.emit(ev)
	e.mu.Unlock()
}

// Run 执行一轮编排并通过 emit 回调按序发出事件。事件序列遵循规范
// 分类：stream_started → strategy_selected → 各模型流事件 →
// synthesis_* → stream_completed / stream_error。
// 返回错误时已先发出对应的 *_error 事件。
func (o *Orchestrator) Run(ctx context.Context, req Request, emit func(types.StreamEvent)) error {
	models, weights := o.resolve(req)
	em := &emitter{emit: emit}

	em.send(types.StreamEvent{Kind: types.EventStreamStarted, Models: models})

	strategy := o.selectStrategy(models, weights)
	em.send(types.StreamEvent{Kind: types.EventStrategySelected, Strategy: strategy})

	// 缓存命中短路扇出与合成
	if text, ok := o.cachedSynthesis(ctx, req.Prompt, weights); ok {
		o.logger.Debug("synthesis cache hit", zap.String("conversation_id", req.ConversationID))
		em.send(types.StreamEvent{Kind: types.EventSynthesisStarted})
		o.emitSynthesisChunks(em, text)
		em.send(types.StreamEvent{Kind: types.EventSynthesisCompleted, FinalResponse: text})
		em.send(types.StreamEvent{Kind: types.EventStreamCompleted})
		return nil
	}

	result, err := o.fanOut(ctx, req.Prompt, models, em)
	if err != nil {
		em.send(types.StreamEvent{Kind: types.EventStreamError, Error: err.Error()})
		return err
	}

	em.send(types.StreamEvent{Kind: types.EventSynthesisStarted})

	synth, err := o.engine.Synthesize(ctx, result.Responses, weights)
	if err != nil {
		serr := types.NewError(types.ErrSynthesisFailed, "synthesis failed").WithCause(err)
		em.send(types.StreamEvent{Kind: types.EventSynthesisError, Error: serr.Error()})
		em.send(types.StreamEvent{Kind: types.EventStreamError, Error: serr.Error()})
		return serr
	}

	o.emitSynthesisChunks(em, synth.Text)
	em.send(types.StreamEvent{Kind: types.EventSynthesisCompleted, FinalResponse: synth.Text})
	em.send(types.StreamEvent{Kind: types.EventStreamCompleted})

	o.storeSynthesis(ctx, req.Prompt, weights, synth.Text)

	return nil
}

// RunBatch 非流式路径：扇出、归集、合成，直接返回最终回答与
// 各模型失败表。
func (o *Orchestrator) RunBatch(ctx context.Context, req Request) (string, map[string]*types.Error, error) {
	models, weights := o.resolve(req)

	if text, ok := o.cachedSynthesis(ctx, req.Prompt, weights); ok {
		return text, nil, nil
	}

	calls := make(map[string]fanout.Call, len(models))
	for _, model := range models {
		backend, err := o.registry.Get(model)
		if err != nil {
			return "", nil, err
		}
		calls[model] = func(ctx context.Context) (string, error) {
			return backend.Complete(ctx, req.Prompt)
		}
	}

	result, err := o.coordinator.Collect(ctx, calls)
	if err != nil {
		if result != nil {
			return "", result.Failures, err
		}
		return "", nil, err
	}

	synth, err := o.engine.Synthesize(ctx, result.Responses, weights)
	if err != nil {
		return "", result.Failures, types.NewError(types.ErrSynthesisFailed, "synthesis failed").WithCause(err)
	}

	o.storeSynthesis(ctx, req.Prompt, weights, synth.Text)

	return synth.Text, result.Failures, nil
}

// fanOut 并发驱动各模型的流式调用，模型事件经 emitter 串行发出。
func (o *Orchestrator) fanOut(ctx context.Context, prompt string, models []string, em *emitter) (*fanout.Result, error) {
	calls := make(map[string]fanout.Call, len(models))
	for _, model := range models {
		backend, err := o.registry.Get(model)
		if err != nil {
			em.send(types.StreamEvent{
				Kind:  types.EventModelStreamError,
				Model: model,
				Error: err.Error(),
			})
			return nil, err
		}

		model := model
		calls[model] = func(ctx context.Context) (string, error) {
			em.send(types.StreamEvent{Kind: types.EventModelStreamStarted, Model: model})

			last := time.Now()
			full, err := backend.Stream(ctx, prompt, func(c Chunk) error {
				now := time.Now()
				em.send(types.StreamEvent{
					Kind:     types.EventModelChunk,
					Model:    model,
					Chunk:    c.Text,
					Progress: c.Progress,
					Metrics: &types.ChunkMetrics{
						Tokens:    o.estimator.Count(c.Text),
						LatencyMS: now.Sub(last).Milliseconds(),
					},
				})
				last = now
				return nil
			})
			if err != nil {
				em.send(types.StreamEvent{
					Kind:  types.EventModelStreamError,
					Model: model,
					Error: err.Error(),
				})
				return "", err
			}
			return full, nil
		}
	}

	return o.coordinator.Collect(ctx, calls)
}

// emitSynthesisChunks 把最终文本按固定目标大小切成 synthesis_chunk
// 序列，进度随切片推进。
func (o *Orchestrator) emitSynthesisChunks(em *emitter, text string) {
	if text == "" {
		return
	}

	runes := []rune(text)
	total := len(runes)
	for i := 0; i < total; i += synthesisChunkRunes {
		end := i + synthesisChunkRunes
		if end > total {
			end = total
		}
		em.send(types.StreamEvent{
			Kind:     types.EventSynthesisChunk,
			Chunk:    string(runes[i:end]),
			Progress: float64(end) / float64(total),
		})
	}
}

func (o *Orchestrator) cachedSynthesis(ctx context.Context, prompt string, weights map[string]float64) (string, bool) {
	if o.cache == nil {
		return "", false
	}
	text, found, err := o.cache.GetSynthesis(ctx, cache.Key(prompt, weights))
	if err != nil {
		o.logger.Warn("cache lookup failed", zap.Error(err))
		return "", false
	}
	if o.metrics != nil {
		if found {
			o.metrics.RecordCacheHit()
		} else {
			o.metrics.RecordCacheMiss()
		}
	}
	return text, found
}

func (o *Orchestrator) storeSynthesis(ctx context.Context, prompt string, weights map[string]float64, text string) {
	if o.cache == nil || text == "" {
		return
	}
	if err := o.cache.SetSynthesis(ctx, cache.Key(prompt, weights), text, o.opts.CacheTTL); err != nil {
		o.logger.Warn("cache store failed", zap.Error(err))
	}
}
