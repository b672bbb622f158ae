package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/ensembleflow/types"
)

// Chunk 模型生成过程中的增量片段。
type Chunk struct {
	Text     string
	Progress float64
}

// Backend 单个模型的调用端。Stream 逐片段回调并返回完整文本，
// Complete 一次性返回完整文本。
type Backend interface {
	Name() string
	Stream(ctx context.Context, prompt string, emit func(Chunk) error) (string, error)
	Complete(ctx context.Context, prompt string) (string, error)
}

// Registry 按模型标识注册 Backend。并发安全。
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register 注册 Backend，同名覆盖。
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Get 按模型标识取 Backend。
func (r *Registry) Get(model string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[model]
	if !ok {
		return nil, types.NewError(types.ErrModelNotFound, "model not registered").WithModel(model)
	}
	return b, nil
}

// Names 返回已注册模型标识，按字典序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
