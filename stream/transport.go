package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/ensembleflow/types"
)

// Kind 传输通道变体。
type Kind string

const (
	// KindWebSocket 持久双向通道：起始帧 + 周期性 ping 保活
	KindWebSocket Kind = "websocket"
	// KindNDJSON 单向通道：一次请求，消费无界的换行分隔 JSON 帧序列
	KindNDJSON Kind = "ndjson"
)

// ParseKind 解析传输变体字符串。
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindWebSocket, KindNDJSON:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown transport kind %q", s)
}

// StartRequest 会话启动参数。
type StartRequest struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	Prompt         string             `json:"prompt"`
	Models         []string           `json:"model_config,omitempty"`
	Weights        map[string]float64 `json:"custom_weights,omitempty"`
	Mode           string             `json:"mode,omitempty"`
}

// Transport 抽象两种通道变体，会话管理器对变体保持无感知。
// Recv 按到达顺序返回规范化事件；单向通道在流自然结束且无终止事件时
// 返回 io.EOF，这是正常完成而非故障。
type Transport interface {
	Open(ctx context.Context, req StartRequest) error
	Recv(ctx context.Context) (*types.StreamEvent, error)
	Close() error
	Kind() Kind
}

// TransportFactory 按变体构造传输实例。由调用层注入，便于测试替换。
type TransportFactory func(kind Kind) (Transport, error)

// ParseFrame 将原始帧解析为规范化事件。解析失败返回协议解析错误，
// 调用方应记录日志并丢弃该帧，不使会话失败。
func ParseFrame(data []byte) (*types.StreamEvent, error) {
	var ev types.StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, types.NewError(types.ErrProtocolParse, "malformed frame").WithCause(err)
	}
	if ev.Kind == "" {
		return nil, types.NewError(types.ErrProtocolParse, "frame missing type")
	}
	return &ev, nil
}
