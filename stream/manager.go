package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/types"
)

// State 会话管理器状态。
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Config 会话管理器参数。
type Config struct {
	// 最大重连次数，连续故障达到该值后永久停在 error 状态
	MaxReconnects int
	// 重连基础延迟，按故障次数线性递增
	ReconnectDelay time.Duration
	// 重连延迟上限
	MaxBackoff time.Duration
	// 订阅通道缓冲
	EventBuffer int
}

// DefaultConfig 返回默认会话管理器参数。
func DefaultConfig() Config {
	return Config{
		MaxReconnects:  3,
		ReconnectDelay: time.Second,
		MaxBackoff:     30 * time.Second,
		EventBuffer:    64,
	}
}

// Manager 单会话管理器。同一管理器任意时刻至多持有一个活动会话，
// 启动新会话会先停止旧会话。状态机：
//
//	idle → connecting → connected → streaming → completed
//
// 任何传输故障或应用层错误事件使会话进入 error；error 不会被后续
// 事件悄悄清除，只有显式的 StopSession 或新的 StartSession 能离开。
// 传输故障按递增退避重连，连续故障达到上限后永久停留在 error。
type Manager struct {
	config  Config
	factory TransportFactory
	logger  *zap.Logger
	metrics *metrics.Collector

	mu         sync.Mutex
	state      State
	session    *Session
	transport  Transport
	request    StartRequest
	kind       Kind
	reconnects int
	// 代际计数：StopSession/StartSession 递增，旧读循环与旧重连
	// 协程携带过期代际，其后续事件一律忽略
	epoch  int
	stopCh chan struct{}

	subMu    sync.Mutex
	nextSub  int
	subs     map[int]chan types.StreamEvent
	textSubs map[int]chan string
}

// NewManager 创建会话管理器。
func NewManager(factory TransportFactory, config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxReconnects <= 0 {
		config.MaxReconnects = DefaultConfig().MaxReconnects
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultConfig().EventBuffer
	}
	return &Manager{
		config:   config,
		factory:  factory,
		logger:   logger.With(zap.String("component", "session_manager")),
		state:    StateIdle,
		subs:     make(map[int]chan types.StreamEvent),
		textSubs: make(map[int]chan string),
	}
}

// WithMetrics 挂接指标收集器。
func (m *Manager) WithMetrics(c *metrics.Collector) *Manager {
	m.metrics = c
	return m
}

// State 返回当前状态。
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session 返回当前会话的只读快照，无活动会话时返回 nil。
func (m *Manager) Session() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.snapshot()
}

// StartSession 启动新会话。已有活动会话时先将其停止（单例会话）。
func (m *Manager) StartSession(ctx context.Context, kind Kind, req StartRequest) error {
	m.StopSession()

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.state = StateConnecting
	m.request = req
	m.kind = kind
	m.reconnects = 0
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	t, err := m.openTransport(ctx, kind, req)
	if err != nil {
		m.mu.Lock()
		if epoch == m.epoch {
			m.state = StateError
		}
		m.mu.Unlock()
		m.recordSession(kind, "connect_failed")
		return err
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		_ = t.Close()
		return fmt.Errorf("session superseded during start")
	}
	m.transport = t
	m.session = NewSession(kind)
	m.state = StateConnected
	sessionID := m.session.SessionID
	m.mu.Unlock()

	m.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("transport", string(kind)),
		zap.Strings("models", req.Models))

	go m.readLoop(epoch, t)

	return nil
}

func (m *Manager) openTransport(ctx context.Context, kind Kind, req StartRequest) (Transport, error) {
	t, err := m.factory(kind)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	if err := t.Open(ctx, req); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// StopSession 从任意非 idle 状态回到 idle：拆除传输并丢弃会话。
// 此后属于旧会话的一切事件被忽略。
func (m *Manager) StopSession() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.epoch++
	t := m.transport
	m.transport = nil
	m.session = nil
	m.state = StateIdle
	m.reconnects = 0
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
	m.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	m.logger.Info("session stopped")
}

// readLoop 消费传输事件直至终止事件、流结束或故障。
func (m *Manager) readLoop(epoch int, t Transport) {
	for {
		ev, err := t.Recv(context.Background())
		if err != nil {
			if m.stale(epoch) {
				return
			}
			if errors.Is(err, io.EOF) {
				m.handleStreamEnd(epoch)
				return
			}
			m.handleFault(epoch, t, err)
			return
		}

		terminal := m.handleEvent(epoch, *ev)
		if terminal {
			_ = t.Close()
			return
		}
	}
}

func (m *Manager) stale(epoch int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return epoch != m.epoch
}

// handleEvent 按到达顺序应用事件并驱动状态机。返回是否为终止事件。
func (m *Manager) handleEvent(epoch int, ev types.StreamEvent) bool {
	m.mu.Lock()
	if epoch != m.epoch || m.session == nil {
		m.mu.Unlock()
		return true
	}

	ev.SessionID = m.session.SessionID
	m.session.apply(ev)

	switch {
	case ev.IsError():
		// 应用层错误：进入 error 且不被后续事件清除
		m.state = StateError
	case ev.Kind == types.EventStreamStarted && m.state == StateConnected:
		m.state = StateStreaming
	case ev.Kind == types.EventStreamCompleted && m.state == StateStreaming:
		m.state = StateCompleted
	}
	state := m.state
	kind := m.kind
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordEvent(string(ev.Kind))
		if ev.Kind == types.EventModelChunk {
			tokens := 0
			if ev.Metrics != nil {
				tokens = ev.Metrics.Tokens
			}
			m.metrics.RecordModelChunk(ev.Model, tokens)
		}
	}

	m.broadcast(ev)

	if ev.Kind == types.EventStreamCompleted {
		m.recordSession(kind, "completed")
	}
	if ev.Kind == types.EventStreamError {
		m.recordSession(kind, "stream_error")
	}

	if ev.IsTerminal() {
		m.logger.Info("stream terminal event",
			zap.String("kind", string(ev.Kind)),
			zap.String("state", string(state)))
		return true
	}
	return false
}

// handleStreamEnd 单向通道流自然结束：无终止事件也是正常完成。
func (m *Manager) handleStreamEnd(epoch int) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if m.state == StateConnected || m.state == StateStreaming {
		m.state = StateCompleted
	}
	kind := m.kind
	m.mu.Unlock()

	m.logger.Info("stream ended without terminal event, treating as completed")
	m.recordSession(kind, "completed")
}

// handleFault 传输故障处理：递增计数，未达上限时按线性递增退避调度
// 重连（等待期间停留在 error），达到上限后永久停留在 error。
func (m *Manager) handleFault(epoch int, t Transport, cause error) {
	_ = t.Close()

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.state = StateError
	m.reconnects++
	attempt := m.reconnects
	max := m.config.MaxReconnects
	stopCh := m.stopCh
	req := m.request
	kind := m.kind
	m.mu.Unlock()

	if attempt >= max {
		m.logger.Error("max reconnect attempts reached, session permanently failed",
			zap.Int("attempts", attempt),
			zap.Error(cause))
		m.recordSession(kind, "error")
		return
	}

	delay := time.Duration(attempt) * m.config.ReconnectDelay
	if delay > m.config.MaxBackoff {
		delay = m.config.MaxBackoff
	}

	m.logger.Warn("transport fault, scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max", max),
		zap.Duration("delay", delay),
		zap.Error(cause))

	go m.reconnect(epoch, kind, req, delay, stopCh)
}

func (m *Manager) reconnect(epoch int, kind Kind, req StartRequest, delay time.Duration, stopCh chan struct{}) {
	select {
	case <-stopCh:
		return
	case <-time.After(delay):
	}

	if m.stale(epoch) {
		return
	}

	if m.metrics != nil {
		m.metrics.RecordReconnect()
	}

	t, err := m.openTransport(context.Background(), kind, req)
	if err != nil {
		m.handleFault(epoch, noopTransport{kind}, err)
		return
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		_ = t.Close()
		return
	}
	m.transport = t
	m.state = StateConnected
	// 重连成功重置连续故障计数
	m.reconnects = 0
	m.mu.Unlock()

	m.logger.Info("reconnected", zap.String("transport", string(kind)))

	go m.readLoop(epoch, t)
}

// noopTransport 重连失败路径上占位的已关闭传输。
type noopTransport struct{ kind Kind }

func (n noopTransport) Open(context.Context, StartRequest) error { return fmt.Errorf("not open") }
func (n noopTransport) Recv(context.Context) (*types.StreamEvent, error) {
	return nil, fmt.Errorf("not open")
}
func (n noopTransport) Close() error { return nil }
func (n noopTransport) Kind() Kind   { return n.kind }

// Subscribe 订阅事件流。返回通道与取消函数；缓冲满时事件对该订阅者
// 丢弃，不阻塞事件循环。
func (m *Manager) Subscribe() (<-chan types.StreamEvent, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan types.StreamEvent, m.config.EventBuffer)
	m.subs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

// SubscribeText 订阅纯文本流。行格式：`[model] text`、`[SYNTHESIS] text`
// 或 `[FINAL] text`。
func (m *Manager) SubscribeText() (<-chan string, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan string, m.config.EventBuffer)
	m.textSubs[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.textSubs[id]; ok {
			delete(m.textSubs, id)
			close(ch)
		}
	}
}

func (m *Manager) broadcast(ev types.StreamEvent) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}

	line := textLine(ev)
	if line == "" {
		return
	}
	for _, ch := range m.textSubs {
		select {
		case ch <- line:
		default:
		}
	}
}

// textLine 事件的纯文本行表示，无文本载荷的事件返回空串。
func textLine(ev types.StreamEvent) string {
	switch ev.Kind {
	case types.EventModelChunk:
		if ev.Chunk == "" {
			return ""
		}
		return "[" + ev.Model + "] " + ev.Chunk
	case types.EventSynthesisChunk:
		if ev.Chunk == "" {
			return ""
		}
		return "[SYNTHESIS] " + ev.Chunk
	case types.EventSynthesisCompleted:
		return "[FINAL] " + ev.FinalResponse
	}
	return ""
}

func (m *Manager) recordSession(kind Kind, outcome string) {
	if m.metrics != nil {
		m.metrics.RecordSession(string(kind), outcome)
	}
}
