package stream

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/ensembleflow/types"
)

// ModelStatus 单模型流式状态。
type ModelStatus string

const (
	ModelQueued    ModelStatus = "queued"
	ModelStreaming ModelStatus = "streaming"
	ModelCompleted ModelStatus = "completed"
	ModelFailed    ModelStatus = "failed"
)

// ModelProgress 单模型进度。仅由会话事件循环修改。
type ModelProgress struct {
	ModelID           string      `json:"model_id"`
	Status            ModelStatus `json:"status"`
	FractionComplete  float64     `json:"fraction_complete"`
	AccumulatedChunks []string    `json:"accumulated_chunks,omitempty"`
	ErrorDetail       string      `json:"error_detail,omitempty"`

	// 该模型是否已发出过至少一个事件。未发声的模型不参与总体进度。
	seen bool
}

// Session 单次编排会话的全部状态。事件严格按到达顺序应用，
// 不允许并发修改：同步由持有者（会话管理器）负责。
type Session struct {
	SessionID     string
	TransportKind Kind
	CreatedAt     time.Time
	StrategyName  string
	Models        map[string]*ModelProgress
	EventLog      []types.StreamEvent

	synthesisChunks []string
	finalResponse   string
	completed       bool
}

// NewSession 创建空白会话。
func NewSession(kind Kind) *Session {
	return &Session{
		SessionID:     uuid.NewString(),
		TransportKind: kind,
		CreatedAt:     time.Now(),
		Models:        make(map[string]*ModelProgress),
	}
}

func (s *Session) progress(model string) *ModelProgress {
	p, ok := s.Models[model]
	if !ok {
		p = &ModelProgress{ModelID: model, Status: ModelQueued}
		s.Models[model] = p
	}
	return p
}

// apply 将事件追加到日志并按类型修改会话状态。事件本身不被修改。
func (s *Session) apply(ev types.StreamEvent) {
	s.EventLog = append(s.EventLog, ev)

	switch ev.Kind {
	case types.EventStreamStarted:
		for _, m := range ev.Models {
			s.progress(m)
		}

	case types.EventStrategySelected:
		s.StrategyName = ev.Strategy

	case types.EventModelStreamStarted:
		p := s.progress(ev.Model)
		p.Status = ModelStreaming
		p.seen = true

	case types.EventModelChunk:
		p := s.progress(ev.Model)
		p.seen = true
		if p.Status == ModelQueued {
			p.Status = ModelStreaming
		}
		if ev.Chunk != "" {
			p.AccumulatedChunks = append(p.AccumulatedChunks, ev.Chunk)
		}
		// 进度只进不退，并夹在 [0,1]
		f := ev.Progress
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		if f > p.FractionComplete {
			p.FractionComplete = f
		}
		if p.FractionComplete >= 1.0 {
			p.FractionComplete = 1.0
			p.Status = ModelCompleted
		}

	case types.EventModelStreamError:
		p := s.progress(ev.Model)
		p.seen = true
		p.Status = ModelFailed
		p.ErrorDetail = ev.Error

	case types.EventSynthesisChunk:
		s.synthesisChunks = append(s.synthesisChunks, ev.Chunk)

	case types.EventSynthesisCompleted:
		s.finalResponse = ev.FinalResponse

	case types.EventStreamCompleted:
		s.completed = true

	case types.EventHeartbeat:
		// 不触碰任何进度状态
	}
}

// AggregateProgress 已发声模型的平均完成度。没有模型发声时 ok 为
// false，由调用方处理，永远不产生 NaN。
func (s *Session) AggregateProgress() (float64, bool) {
	sum := 0.0
	n := 0
	for _, p := range s.Models {
		if !p.seen {
			continue
		}
		sum += p.FractionComplete
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// IsComplete 全部已知模型都完成。
func (s *Session) IsComplete() bool {
	if len(s.Models) == 0 {
		return false
	}
	for _, p := range s.Models {
		if p.Status != ModelCompleted {
			return false
		}
	}
	return true
}

// SynthesizedText 合成分片按顺序拼接。
func (s *Session) SynthesizedText() string {
	return strings.Join(s.synthesisChunks, "")
}

// FinalResponse 合成完成事件携带的最终回答。
func (s *Session) FinalResponse() string {
	return s.finalResponse
}

// Snapshot 会话状态的只读快照，供并发读取。
type Snapshot struct {
	SessionID         string                   `json:"session_id"`
	TransportKind     Kind                     `json:"transport_kind"`
	CreatedAt         time.Time                `json:"created_at"`
	StrategyName      string                   `json:"strategy_name,omitempty"`
	Models            map[string]ModelProgress `json:"models"`
	AggregateProgress float64                  `json:"aggregate_progress"`
	EventCount        int                      `json:"event_count"`
	SynthesizedText   string                   `json:"synthesized_text,omitempty"`
	FinalResponse     string                   `json:"final_response,omitempty"`
	Complete          bool                     `json:"complete"`
}

// snapshot 复制会话状态。进度条目按值复制，分片切片独立。
func (s *Session) snapshot() *Snapshot {
	models := make(map[string]ModelProgress, len(s.Models))
	for id, p := range s.Models {
		cp := *p
		cp.AccumulatedChunks = append([]string(nil), p.AccumulatedChunks...)
		models[id] = cp
	}
	agg, _ := s.AggregateProgress()
	return &Snapshot{
		SessionID:         s.SessionID,
		TransportKind:     s.TransportKind,
		CreatedAt:         s.CreatedAt,
		StrategyName:      s.StrategyName,
		Models:            models,
		AggregateProgress: agg,
		EventCount:        len(s.EventLog),
		SynthesizedText:   s.SynthesizedText(),
		FinalResponse:     s.finalResponse,
		Complete:          s.completed,
	}
}
