package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/api"
	"github.com/BaSui01/ensembleflow/orchestrator"
	"github.com/BaSui01/ensembleflow/types"
)

// =============================================================================
// 🌊 流式聚合 Handler
// =============================================================================

// StreamHandlerConfig 流式端点参数。
type StreamHandlerConfig struct {
	// HeartbeatInterval 双向通道上服务端心跳帧间隔
	HeartbeatInterval time.Duration
	// RunTimeout 单轮编排上限
	RunTimeout time.Duration
}

// DefaultStreamHandlerConfig 返回默认端点参数。
func DefaultStreamHandlerConfig() StreamHandlerConfig {
	return StreamHandlerConfig{
		HeartbeatInterval: 15 * time.Second,
		RunTimeout:        5 * time.Minute,
	}
}

// StreamHandler 流式与批式聚合端点。
type StreamHandler struct {
	orch   *orchestrator.Orchestrator
	config StreamHandlerConfig
	logger *zap.Logger
}

// NewStreamHandler 创建流式端点处理器。
func NewStreamHandler(orch *orchestrator.Orchestrator, config StreamHandlerConfig, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultStreamHandlerConfig().HeartbeatInterval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultStreamHandlerConfig().RunTimeout
	}
	return &StreamHandler{
		orch:   orch,
		config: config,
		logger: logger.With(zap.String("component", "stream_handler")),
	}
}

func toRequest(req api.StreamRequest) orchestrator.Request {
	return orchestrator.Request{
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Models:         req.ModelConfig,
		Weights:        req.CustomWeights,
		Mode:           req.Mode,
	}
}

// HandleStream 处理 POST /v1/ensemble/stream：
// 接收一次请求，以换行分隔 JSON 帧发出事件序列。
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "POST required", h.logger)
		return
	}

	var req api.StreamRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Prompt == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "prompt is required", h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "streaming unsupported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RunTimeout)
	defer cancel()

	enc := json.NewEncoder(w)
	err := h.orch.Run(ctx, toRequest(req), func(ev types.StreamEvent) {
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	})
	if err != nil {
		// 错误事件已作为帧发出，此处仅记录
		h.logger.Warn("stream run failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err))
	}
}

// HandleWS 处理 GET /v1/ensemble/ws：持久双向通道。入站期待一个
// start_stream 帧与周期性 ping；出站为事件帧与服务端心跳帧。
func (h *StreamHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RunTimeout)
	defer cancel()

	start, err := h.readStartFrame(ctx, conn)
	if err != nil {
		h.logger.Warn("invalid start frame", zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "expected start_stream frame")
		return
	}

	// 入站 ping 消耗协程：客户端保活帧只刷新连接，不产生响应
	go h.consumePings(ctx, conn)

	writeEvent := func(ev types.StreamEvent) error {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageText, body)
	}

	// 服务端心跳
	stopBeat := make(chan struct{})
	defer close(stopBeat)
	go func() {
		ticker := time.NewTicker(h.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopBeat:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = writeEvent(types.StreamEvent{
					Kind:      types.EventHeartbeat,
					Timestamp: time.Now(),
				})
			}
		}
	}()

	runErr := h.orch.Run(ctx, orchestrator.Request{
		ConversationID: start.ConversationID,
		Prompt:         start.Prompt,
		Models:         start.ModelConfig,
		Weights:        start.CustomWeights,
		Mode:           start.Mode,
	}, func(ev types.StreamEvent) {
		_ = writeEvent(ev)
	})
	if runErr != nil {
		h.logger.Warn("websocket run failed",
			zap.String("conversation_id", start.ConversationID),
			zap.Error(runErr))
	}

	conn.Close(websocket.StatusNormalClosure, "stream finished")
}

func (h *StreamHandler) readStartFrame(ctx context.Context, conn *websocket.Conn) (*api.WSFrame, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	var frame api.WSFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, types.NewError(types.ErrProtocolParse, "malformed frame").WithCause(err)
	}
	if frame.Type != api.FrameStartStream {
		return nil, types.NewError(types.ErrProtocolParse, "first frame must be start_stream")
	}
	if frame.Prompt == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "prompt is required")
	}
	return &frame, nil
}

// consumePings 消耗入站帧直至连接关闭。非 ping 帧记录日志后忽略。
func (h *StreamHandler) consumePings(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame api.WSFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("dropping malformed inbound frame", zap.Error(err))
			continue
		}
		if frame.Type != api.FramePing {
			h.logger.Debug("ignoring unexpected inbound frame", zap.String("type", frame.Type))
		}
	}
}

// HandleBatch 处理 POST /v1/ensemble/batch：非流式路径，
// 直接返回最终回答与各模型失败表。
func (h *StreamHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "POST required", h.logger)
		return
	}

	var req api.StreamRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Prompt == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "prompt is required", h.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.RunTimeout)
	defer cancel()

	text, failures, err := h.orch.RunBatch(ctx, toRequest(req))
	if err != nil {
		WriteError(w, types.AsError(err), h.logger)
		return
	}

	resp := api.BatchResponse{FinalResponse: text}
	if len(failures) > 0 {
		resp.Failures = make(map[string]string, len(failures))
		for model, ferr := range failures {
			resp.Failures[model] = ferr.Message
		}
	}
	WriteSuccess(w, resp)
}
