package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/pool"
)

// 路由标签
const (
	routeInline = "inline"
	routeWorker = "worker"
)

// 合并策略标签，用于事件与指标上报。
const (
	StrategyEmpty         = "empty"
	StrategySingle        = "single"
	StrategyDominant      = "dominant"
	StrategyWeightedMerge = "weighted_merge"
)

// Config 合成引擎参数。阈值来源于经验值，保留为可配置项。
type Config struct {
	// 句子判定为近重复的 Jaccard 下界
	DuplicateThreshold float64 `yaml:"duplicate_threshold" json:"duplicate_threshold"`
	// 句子判定为独特观点的 Jaccard 上界
	UniqueThreshold float64 `yaml:"unique_threshold" json:"unique_threshold"`
	// 权重支配倍数：最高权重超过次高的该倍数时直接取最高者
	DominantMultiplier float64 `yaml:"dominant_multiplier" json:"dominant_multiplier"`
	// 超过该条目数的合并转入隔离工作协程
	OffloadEntryLimit int `yaml:"offload_entry_limit" json:"offload_entry_limit"`
	// 单条响应超过该字符数的合并转入隔离工作协程
	OffloadCharLimit int `yaml:"offload_char_limit" json:"offload_char_limit"`
	// 每个候选最多提取的独特观点数
	MaxUniquePoints int `yaml:"max_unique_points" json:"max_unique_points"`
	// 独特观点的最小句长（按字符数）
	MinPointLength int `yaml:"min_point_length" json:"min_point_length"`
}

// DefaultConfig 返回默认合成参数。
func DefaultConfig() Config {
	return Config{
		DuplicateThreshold: 0.8,
		UniqueThreshold:    0.7,
		DominantMultiplier: 2.0,
		OffloadEntryLimit:  5,
		OffloadCharLimit:   5000,
		MaxUniquePoints:    3,
		MinPointLength:     10,
	}
}

// Result 单次合成的结果与路由信息。
type Result struct {
	Text     string
	Strategy string
	Route    string
}

// Engine 将多模型加权响应合并为单一回答。
// 合并函数本身是纯函数，内联执行与工作协程执行结果一致。
type Engine struct {
	config  Config
	pool    *pool.WorkerPool
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewEngine 创建合成引擎。workers 为 nil 时重量级合并退化为内联执行。
func NewEngine(config Config, workers *pool.WorkerPool, logger *zap.Logger) *Engine {
	if config.DuplicateThreshold <= 0 {
		config.DuplicateThreshold = DefaultConfig().DuplicateThreshold
	}
	if config.UniqueThreshold <= 0 {
		config.UniqueThreshold = DefaultConfig().UniqueThreshold
	}
	if config.DominantMultiplier <= 0 {
		config.DominantMultiplier = DefaultConfig().DominantMultiplier
	}
	if config.OffloadEntryLimit <= 0 {
		config.OffloadEntryLimit = DefaultConfig().OffloadEntryLimit
	}
	if config.OffloadCharLimit <= 0 {
		config.OffloadCharLimit = DefaultConfig().OffloadCharLimit
	}
	if config.MaxUniquePoints <= 0 {
		config.MaxUniquePoints = DefaultConfig().MaxUniquePoints
	}
	if config.MinPointLength <= 0 {
		config.MinPointLength = DefaultConfig().MinPointLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		config: config,
		pool:   workers,
		logger: logger.With(zap.String("component", "synthesis_engine")),
	}
}

// WithMetrics 挂接指标收集器。
func (e *Engine) WithMetrics(m *metrics.Collector) *Engine {
	e.metrics = m
	return e
}

// Synthesize 合并加权响应集。weights 中缺失的模型权重按 1.0 处理。
// 空集合返回空串而非错误：在 allow-partial 下零成功是合法结果。
func (e *Engine) Synthesize(ctx context.Context, responses map[string]string, weights map[string]float64) (*Result, error) {
	start := time.Now()

	route := routeInline
	if e.pool != nil && e.shouldOffload(responses) {
		route = routeWorker
	}

	var res *Result
	if route == routeWorker {
		if err := e.pool.SubmitWait(ctx, func(context.Context) error {
			res = e.merge(responses, weights)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("offloaded merge: %w", err)
		}
	} else {
		res = e.merge(responses, weights)
	}
	res.Route = route

	if e.metrics != nil {
		e.metrics.ObserveSynthesis(route, res.Strategy, time.Since(start))
	}
	e.logger.Debug("synthesis completed",
		zap.String("strategy", res.Strategy),
		zap.String("route", route),
		zap.Int("inputs", len(responses)),
		zap.Duration("elapsed", time.Since(start)))

	return res, nil
}

func (e *Engine) shouldOffload(responses map[string]string) bool {
	if len(responses) > e.config.OffloadEntryLimit {
		return true
	}
	for _, text := range responses {
		if len(text) > e.config.OffloadCharLimit {
			return true
		}
	}
	return false
}

type entry struct {
	model  string
	text   string
	weight float64
}

// sortByWeight 按权重降序排列，权重相同时按模型名稳定排序。
func sortByWeight(responses map[string]string, weights map[string]float64) []entry {
	entries := make([]entry, 0, len(responses))
	for model, text := range responses {
		w := 1.0
		if v, ok := weights[model]; ok && v > 0 {
			w = v
		}
		entries = append(entries, entry{model: model, text: text, weight: w})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].model < entries[j].model
	})
	return entries
}

// merge 纯合并逻辑，内联与工作协程两条路径共用。
func (e *Engine) merge(responses map[string]string, weights map[string]float64) *Result {
	switch len(responses) {
	case 0:
		return &Result{Text: "", Strategy: StrategyEmpty}
	case 1:
		for _, text := range responses {
			// 上游已做规范化，此处原样返回
			return &Result{Text: text, Strategy: StrategySingle}
		}
	}

	entries := sortByWeight(responses, weights)

	if len(entries) == 2 {
		return e.mergeTwo(entries)
	}
	return e.mergeMany(entries)
}

func (e *Engine) mergeTwo(entries []entry) *Result {
	top, second := entries[0], entries[1]

	if top.weight > second.weight*e.config.DominantMultiplier {
		return &Result{Text: top.text, Strategy: StrategyDominant}
	}

	// 非支配：去除近重复句后按权重顺序重联
	var kept []string
	for _, s := range append(SplitSentences(top.text), SplitSentences(second.text)...) {
		dup := false
		for _, k := range kept {
			if Jaccard(s, k) >= e.config.DuplicateThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, s)
		}
	}

	if len(kept) == 0 {
		return &Result{Text: "", Strategy: StrategyWeightedMerge}
	}
	return &Result{
		Text:     strings.Join(kept, ". ") + ".",
		Strategy: StrategyWeightedMerge,
	}
}

func (e *Engine) mergeMany(entries []entry) *Result {
	base := entries[0]
	baseSentences := SplitSentences(base.text)

	var points []string
	limit := 3
	if len(entries) < limit {
		limit = len(entries)
	}
	for _, cand := range entries[1:limit] {
		found := 0
		for _, s := range SplitSentences(cand.text) {
			if found >= e.config.MaxUniquePoints {
				break
			}
			if utf8.RuneCountInString(s) < e.config.MinPointLength {
				continue
			}
			if e.isUnique(s, baseSentences) && e.isUnique(s, points) {
				points = append(points, s)
				found++
			}
		}
	}

	if len(points) == 0 {
		return &Result{Text: base.text, Strategy: StrategyWeightedMerge}
	}

	var b strings.Builder
	b.WriteString(base.text)
	b.WriteString("\n\n## Further considerations\n")
	for _, p := range points {
		b.WriteString("\n- ")
		b.WriteString(p)
	}
	return &Result{Text: b.String(), Strategy: StrategyWeightedMerge}
}

// isUnique 句子与参照集中每一句的相似度都低于独特阈值。
func (e *Engine) isUnique(s string, against []string) bool {
	for _, ref := range against {
		if Jaccard(s, ref) >= e.config.UniqueThreshold {
			return false
		}
	}
	return true
}
