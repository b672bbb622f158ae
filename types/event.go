package types

import "time"

// EventKind 标识流式事件类型。
type EventKind string

const (
	EventStreamStarted      EventKind = "stream_started"
	EventStrategySelected   EventKind = "strategy_selected"
	EventModelStreamStarted EventKind = "model_stream_started"
	EventModelChunk         EventKind = "model_chunk"
	EventSynthesisStarted   EventKind = "synthesis_started"
	EventSynthesisChunk     EventKind = "synthesis_chunk"
	EventSynthesisCompleted EventKind = "synthesis_completed"
	EventStreamCompleted    EventKind = "stream_completed"
	EventStreamError        EventKind = "stream_error"
	EventSynthesisError     EventKind = "synthesis_error"
	EventModelStreamError   EventKind = "model_streaming_error"
	EventHeartbeat          EventKind = "heartbeat"
)

var knownKinds = map[EventKind]struct{}{
	EventStreamStarted:      {},
	EventStrategySelected:   {},
	EventModelStreamStarted: {},
	EventModelChunk:         {},
	EventSynthesisStarted:   {},
	EventSynthesisChunk:     {},
	EventSynthesisCompleted: {},
	EventStreamCompleted:    {},
	EventStreamError:        {},
	EventSynthesisError:     {},
	EventModelStreamError:   {},
	EventHeartbeat:          {},
}

// KnownKind reports whether k belongs to the canonical event taxonomy.
func KnownKind(k EventKind) bool {
	_, ok := knownKinds[k]
	return ok
}

// ChunkMetrics 随 model_chunk 事件携带的增量指标。
type ChunkMetrics struct {
	Tokens    int   `json:"tokens,omitempty"`
	LatencyMS int64 `json:"latency_ms,omitempty"`
}

// StreamEvent 规范化流式事件。一旦生成即视为不可变，按到达顺序追加到会话事件日志。
// 各字段按事件类型填充：
//
//   - stream_started:       Models
//   - strategy_selected:    Strategy
//   - model_stream_started: Model
//   - model_chunk:          Model, Chunk, Progress, Metrics
//   - synthesis_chunk:      Chunk, Progress
//   - synthesis_completed:  FinalResponse
//   - *_error:              Error (以及 model_streaming_error 的 Model)
type StreamEvent struct {
	Kind          EventKind     `json:"type"`
	SessionID     string        `json:"session_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	Models        []string      `json:"models,omitempty"`
	Strategy      string        `json:"strategy,omitempty"`
	Model         string        `json:"model,omitempty"`
	Chunk         string        `json:"chunk,omitempty"`
	Progress      float64       `json:"progress,omitempty"`
	Metrics       *ChunkMetrics `json:"metrics,omitempty"`
	FinalResponse string        `json:"final_response,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// IsError reports whether the event is one of the application-level error kinds.
func (e StreamEvent) IsError() bool {
	switch e.Kind {
	case EventStreamError, EventSynthesisError, EventModelStreamError:
		return true
	}
	return false
}

// IsTerminal reports whether no further events follow this one on a healthy stream.
func (e StreamEvent) IsTerminal() bool {
	return e.Kind == EventStreamCompleted || e.Kind == EventStreamError
}
