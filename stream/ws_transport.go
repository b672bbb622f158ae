package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/types"
)

// startFrame 持久通道上的起始帧。
type startFrame struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Prompt         string             `json:"prompt"`
	Models         []string           `json:"model_config,omitempty"`
	Weights        map[string]float64 `json:"custom_weights,omitempty"`
	Mode           string             `json:"mode,omitempty"`
}

// pingFrame 周期性保活帧。
type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// WSConfig 持久通道参数。
type WSConfig struct {
	// 保活帧发送间隔
	HeartbeatInterval time.Duration
	// 超过 间隔+超时 未收到任何入站帧视为传输故障
	HeartbeatTimeout time.Duration
	// WebSocket 子协议
	Subprotocols []string
}

// DefaultWSConfig 返回默认持久通道参数。
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// WSTransport 持久双向通道。连接期间按固定间隔发送保活帧，
// 并监测入站帧间隔：长时间静默本身构成传输故障，与应用层错误
// 事件区分上报。写操作加锁，WebSocket 不支持并发写。
type WSTransport struct {
	url    string
	config WSConfig
	logger *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	closed        bool
	lastHeartbeat time.Time
	heartbeatDead bool
	done          chan struct{}
}

// NewWSTransport 创建持久通道传输。
func NewWSTransport(url string, config WSConfig, logger *zap.Logger) *WSTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultWSConfig().HeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultWSConfig().HeartbeatTimeout
	}
	return &WSTransport{
		url:    url,
		config: config,
		logger: logger.With(zap.String("component", "ws_transport")),
		done:   make(chan struct{}),
	}
}

// Kind 返回变体标识。
func (t *WSTransport) Kind() Kind { return KindWebSocket }

// Open 建立连接，发送起始帧并启动保活协程。
func (t *WSTransport) Open(ctx context.Context, req StartRequest) error {
	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		Subprotocols: t.config.Subprotocols,
	})
	if err != nil {
		return types.NewError(types.ErrTransportFault, "websocket dial").
			WithRetryable(true).
			WithCause(err)
	}

	start := startFrame{
		Type:           "start_stream",
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Models:         req.Models,
		Weights:        req.Weights,
		Mode:           req.Mode,
	}
	body, err := json.Marshal(start)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "start frame")
		return fmt.Errorf("marshal start frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "start frame")
		return types.NewError(types.ErrTransportFault, "send start frame").
			WithRetryable(true).
			WithCause(err)
	}

	t.mu.Lock()
	t.conn = conn
	t.lastHeartbeat = time.Now()
	t.heartbeatDead = false
	t.mu.Unlock()

	go t.keepalive()

	return nil
}

// Recv 读取下一个规范化事件。任何入站帧都刷新心跳时间戳；
// 格式错误的帧记录日志后丢弃，继续读取。
func (t *WSTransport) Recv(ctx context.Context) (*types.StreamEvent, error) {
	for {
		t.mu.Lock()
		conn := t.conn
		closed := t.closed
		t.mu.Unlock()

		if closed {
			return nil, fmt.Errorf("transport closed")
		}
		if conn == nil {
			return nil, fmt.Errorf("transport not open")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.done:
				return nil, fmt.Errorf("transport closed")
			default:
			}
			return nil, t.classifyReadError(err)
		}

		t.mu.Lock()
		t.lastHeartbeat = time.Now()
		t.mu.Unlock()

		ev, perr := ParseFrame(data)
		if perr != nil {
			t.logger.Warn("dropping malformed frame", zap.Error(perr))
			continue
		}
		if !types.KnownKind(ev.Kind) {
			t.logger.Warn("dropping unknown event kind", zap.String("kind", string(ev.Kind)))
			continue
		}
		return ev, nil
	}
}

// classifyReadError 区分心跳缺失与一般传输故障。
func (t *WSTransport) classifyReadError(err error) error {
	t.mu.Lock()
	dead := t.heartbeatDead
	t.mu.Unlock()

	if dead {
		return types.NewError(types.ErrHeartbeatTimeout, "no frames within heartbeat window").
			WithRetryable(true).
			WithCause(err)
	}
	return types.NewError(types.ErrTransportFault, "websocket read").
		WithRetryable(true).
		WithCause(err)
}

// keepalive 周期发送 ping 帧并监测入站静默。超过 间隔+超时 无任何
// 入站帧时标记心跳失效并关闭连接，使阻塞中的 Recv 以心跳超时返回。
func (t *WSTransport) keepalive() {
	ticker := time.NewTicker(t.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		conn := t.conn
		last := t.lastHeartbeat
		t.mu.Unlock()
		if conn == nil {
			return
		}

		if time.Since(last) > t.config.HeartbeatInterval+t.config.HeartbeatTimeout {
			t.logger.Warn("heartbeat absent, failing transport",
				zap.Duration("since_last", time.Since(last)))
			t.mu.Lock()
			t.heartbeatDead = true
			t.mu.Unlock()
			_ = conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
			return
		}

		ping := pingFrame{Type: "ping", Timestamp: time.Now().UnixMilli()}
		body, _ := json.Marshal(ping)

		ctx, cancel := context.WithTimeout(context.Background(), t.config.HeartbeatTimeout)
		err := conn.Write(ctx, websocket.MessageText, body)
		cancel()
		if err != nil {
			t.logger.Warn("keepalive ping failed", zap.Error(err))
			return
		}
	}
}

// Close 关闭通道。幂等。
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}
