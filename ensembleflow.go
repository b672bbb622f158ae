// Package ensembleflow provides a top-level convenience entry point for
// assembling a multi-model aggregation pipeline with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/ensembleflow"
//
//	orch, err := ensembleflow.New(
//	    ensembleflow.WithModels("glm-4", "qwen-max", "deepseek-chat"),
//	    ensembleflow.WithWeights(map[string]float64{"glm-4": 3.0}),
//	)
//
// The returned orchestrator fans a prompt out to every registered model,
// collects the responses under a shared concurrency limit, and synthesizes
// them into a single weighted answer.
package ensembleflow

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/fanout"
	"github.com/BaSui01/ensembleflow/orchestrator"
	"github.com/BaSui01/ensembleflow/synthesis"
)

// Option configures the orchestrator created by [New].
type Option func(*settings)

type settings struct {
	models      []string
	weights     map[string]float64
	backends    []orchestrator.Backend
	capacity    int
	callTimeout time.Duration
	policy      string
	logger      *zap.Logger
}

// WithModels registers deterministic built-in backends for the given model
// names. Useful for local runs and tests; production callers register real
// backends via [WithBackend].
func WithModels(models ...string) Option {
	return func(s *settings) { s.models = append(s.models, models...) }
}

// WithBackend registers a pre-built model backend.
func WithBackend(b orchestrator.Backend) Option {
	return func(s *settings) { s.backends = append(s.backends, b) }
}

// WithWeights sets default per-model synthesis weights. Models without an
// entry default to 1.0.
func WithWeights(weights map[string]float64) Option {
	return func(s *settings) { s.weights = weights }
}

// WithCapacity sets the number of model calls allowed in flight at once.
func WithCapacity(n int) Option {
	return func(s *settings) { s.capacity = n }
}

// WithCallTimeout bounds each individual model call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) { s.callTimeout = d }
}

// WithPolicy selects the partial-results policy: "allow-partial" or "fail-fast".
func WithPolicy(policy string) Option {
	return func(s *settings) { s.policy = policy }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// New assembles an [orchestrator.Orchestrator] with default fan-out and
// synthesis settings. At minimum one model or backend must be provided.
func New(opts ...Option) (*orchestrator.Orchestrator, error) {
	s := &settings{
		capacity:    3,
		callTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if len(s.models) == 0 && len(s.backends) == 0 {
		return nil, fmt.Errorf("ensembleflow: at least one model or backend is required")
	}

	policy, err := fanout.ParsePolicy(s.policy)
	if err != nil {
		return nil, err
	}

	registry := orchestrator.NewRegistry()
	for _, b := range s.backends {
		registry.Register(b)
	}
	for _, model := range s.models {
		registry.Register(orchestrator.NewStubBackend(model, orchestrator.DefaultStubBackendConfig()))
	}

	coordinator := fanout.NewCoordinator(
		fanout.NewLimiter(s.capacity),
		fanout.Config{CallTimeout: s.callTimeout, Policy: policy},
		s.logger,
	)
	engine := synthesis.NewEngine(synthesis.DefaultConfig(), nil, s.logger)

	return orchestrator.New(
		registry,
		coordinator,
		engine,
		nil,
		orchestrator.Options{DefaultWeights: s.weights},
		s.logger,
	), nil
}
