package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/synthesis"
	"github.com/BaSui01/ensembleflow/types"
)

// Policy 部分结果策略
type Policy string

const (
	// PolicyAllowPartial 成功与失败分别归集，仅在零成功时致命
	PolicyAllowPartial Policy = "allow-partial"
	// PolicyFailFast 首个失败立即传播，不再等待其余结果
	PolicyFailFast Policy = "fail-fast"
)

// ParsePolicy 解析策略字符串。
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyAllowPartial, PolicyFailFast:
		return Policy(s), nil
	case "":
		return PolicyAllowPartial, nil
	}
	return "", fmt.Errorf("unknown partial-results policy %q", s)
}

// Call 单个模型调用。由调用层构造，协调器负责在限流器约束下执行。
type Call func(ctx context.Context) (string, error)

// Normalizer 对成功结果做规范化处理。
type Normalizer func(model, text string) string

// Result 扇入结果。成功与失败分别按模型归集，互不影响。
type Result struct {
	Responses map[string]string
	Failures  map[string]*types.Error
}

// Config 协调器配置
type Config struct {
	// 单次调用超时，0 表示不限制
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// 部分结果策略
	Policy Policy `yaml:"policy" json:"policy"`
}

// Coordinator 并发驱动 N 个模型调用并归集结果。
// 每个调用先获取限流器槽位再执行，释放走 defer 保证路径，
// 超时或出错都不会泄漏槽位。
type Coordinator struct {
	limiter   *Limiter
	config    Config
	normalize Normalizer
	metrics   *metrics.Collector
	logger    *zap.Logger
}

type outcome struct {
	model    string
	text     string
	err      *types.Error
	duration time.Duration
}

// NewCoordinator 创建协调器。limiter 为 nil 时使用默认容量限流器。
func NewCoordinator(limiter *Limiter, config Config, logger *zap.Logger) *Coordinator {
	if limiter == nil {
		limiter = NewLimiter(DefaultCapacity)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Policy == "" {
		config.Policy = PolicyAllowPartial
	}
	return &Coordinator{
		limiter:   limiter,
		config:    config,
		normalize: synthesis.Normalize,
		logger:    logger.With(zap.String("component", "fanout_coordinator")),
	}
}

// WithNormalizer 替换成功结果的规范化函数。nil 表示不做规范化。
func (c *Coordinator) WithNormalizer(n Normalizer) *Coordinator {
	c.normalize = n
	return c
}

// WithMetrics 挂接指标收集器。
func (c *Coordinator) WithMetrics(m *metrics.Collector) *Coordinator {
	c.metrics = m
	return c
}

// Limiter 返回协调器共享的限流器。
func (c *Coordinator) Limiter() *Limiter {
	return c.limiter
}

// Collect 并发执行全部调用并按策略归集。
//
// allow-partial: 返回的 Result 含成功与失败两张表；仅当全部失败时
// 返回致命错误。fail-fast: 首个失败立即返回，其余在途调用不被取消，
// 结果被丢弃（outcome 通道按调用数缓冲，不会泄漏协程）。
func (c *Coordinator) Collect(ctx context.Context, calls map[string]Call) (*Result, error) {
	res := &Result{
		Responses: make(map[string]string, len(calls)),
		Failures:  make(map[string]*types.Error),
	}
	if len(calls) == 0 {
		return res, nil
	}

	outcomes := make(chan outcome, len(calls))
	for model, call := range calls {
		go c.runCall(ctx, model, call, outcomes)
	}

	for i := 0; i < len(calls); i++ {
		select {
		case out := <-outcomes:
			if c.metrics != nil {
				status := "ok"
				if out.err != nil {
					status = string(out.err.Code)
				}
				c.metrics.ObserveModelCall(out.model, status, out.duration)
			}

			if out.err != nil {
				c.logger.Warn("model call failed",
					zap.String("model", out.model),
					zap.Error(out.err))
				if c.config.Policy == PolicyFailFast {
					return nil, out.err
				}
				res.Failures[out.model] = out.err
				continue
			}

			text := out.text
			if c.normalize != nil {
				text = c.normalize(out.model, text)
			}
			res.Responses[out.model] = text

		case <-ctx.Done():
			return nil, types.NewError(types.ErrModelCallFailure, "fan-out cancelled").
				WithCause(ctx.Err())
		}
	}

	if len(res.Responses) == 0 {
		return res, types.NewError(types.ErrModelCallFailure, "all model calls failed")
	}
	return res, nil
}

func (c *Coordinator) runCall(ctx context.Context, model string, call Call, outcomes chan<- outcome) {
	start := time.Now()

	if err := c.limiter.Acquire(ctx); err != nil {
		outcomes <- outcome{
			model:    model,
			err:      types.NewError(types.ErrModelCallFailure, "limiter acquire").WithModel(model).WithCause(err),
			duration: time.Since(start),
		}
		return
	}
	defer c.limiter.Release()
	c.reportLimiter()
	defer c.reportLimiter()

	cctx := ctx
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	text, err := call(cctx)
	if err != nil {
		outcomes <- outcome{
			model:    model,
			err:      classifyCallError(model, err),
			duration: time.Since(start),
		}
		return
	}

	outcomes <- outcome{model: model, text: text, duration: time.Since(start)}
}

func (c *Coordinator) reportLimiter() {
	if c.metrics != nil {
		c.metrics.SetLimiterUsage(c.limiter.InUse(), c.limiter.Waiting())
	}
}

// classifyCallError 将调用错误归入超时或一般失败。
func classifyCallError(model string, err error) *types.Error {
	if typed, ok := err.(*types.Error); ok {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrModelTimeout, "model call timed out").
			WithModel(model).
			WithRetryable(true).
			WithCause(err)
	}
	return types.NewError(types.ErrModelCallFailure, "model call failed").
		WithModel(model).
		WithCause(err)
}
