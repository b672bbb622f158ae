package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/ensembleflow/types"
)

// StubBackendConfig 脚本化后端行为。
type StubBackendConfig struct {
	// ChunkDelay 模拟每片段的生成耗时
	ChunkDelay time.Duration
	// Chunks 输出的片段脚本。为空时按提示词生成确定性回答
	Chunks []string
	// FailAt 在第 n 个片段（从 0 起）处失败，-1 表示不失败
	FailAt int
}

// DefaultStubBackendConfig 返回测试友好的默认脚本。
func DefaultStubBackendConfig() StubBackendConfig {
	return StubBackendConfig{
		ChunkDelay: time.Millisecond,
		FailAt:     -1,
	}
}

// StubBackend 确定性的脚本化后端，用于本地运行与测试。
// 同一提示词总是产生同一回答。
type StubBackend struct {
	name   string
	config StubBackendConfig
}

// NewStubBackend 创建脚本化后端。
func NewStubBackend(name string, config StubBackendConfig) *StubBackend {
	if config.ChunkDelay < 0 {
		config.ChunkDelay = 0
	}
	return &StubBackend{name: name, config: config}
}

// Name 返回模型标识。
func (b *StubBackend) Name() string { return b.name }

func (b *StubBackend) chunks(prompt string) []string {
	if len(b.config.Chunks) > 0 {
		return b.config.Chunks
	}
	return []string{
		fmt.Sprintf("[%s] Considering the question %q. ", b.name, prompt),
		"Here is a concise answer drawn from this model's perspective. ",
		fmt.Sprintf("Signed, %s.", b.name),
	}
}

// Stream 按脚本逐片段回调，进度线性推进到 1.0。
func (b *StubBackend) Stream(ctx context.Context, prompt string, emit func(Chunk) error) (string, error) {
	chunks := b.chunks(prompt)
	var full strings.Builder

	for i, text := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if b.config.FailAt == i {
			return "", types.NewError(types.ErrModelCallFailure, "scripted failure").WithModel(b.name)
		}
		if b.config.ChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(b.config.ChunkDelay):
			}
		}

		full.WriteString(text)
		if emit != nil {
			if err := emit(Chunk{
				Text:     text,
				Progress: float64(i+1) / float64(len(chunks)),
			}); err != nil {
				return "", err
			}
		}
	}

	return full.String(), nil
}

// Complete 一次性返回完整回答。
func (b *StubBackend) Complete(ctx context.Context, prompt string) (string, error) {
	return b.Stream(ctx, prompt, nil)
}
