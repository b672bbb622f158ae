package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ensembleflow/fanout"
	"github.com/BaSui01/ensembleflow/internal/tokens"
	"github.com/BaSui01/ensembleflow/orchestrator"
	"github.com/BaSui01/ensembleflow/stream"
	"github.com/BaSui01/ensembleflow/synthesis"
	"github.com/BaSui01/ensembleflow/types"
)

func newTestHandler(t *testing.T, models ...string) *StreamHandler {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := orchestrator.NewRegistry()
	for _, m := range models {
		registry.Register(orchestrator.NewStubBackend(m, orchestrator.DefaultStubBackendConfig()))
	}

	coordinator := fanout.NewCoordinator(fanout.NewLimiter(3), fanout.Config{
		CallTimeout: 5 * time.Second,
		Policy:      fanout.PolicyAllowPartial,
	}, logger)
	engine := synthesis.NewEngine(synthesis.DefaultConfig(), nil, logger)
	orch := orchestrator.New(registry, coordinator, engine, tokens.CharEstimator{}, orchestrator.Options{}, logger)

	return NewStreamHandler(orch, StreamHandlerConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		RunTimeout:        10 * time.Second,
	}, logger)
}

func drainEvents(t *testing.T, tr stream.Transport) []types.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var events []types.StreamEvent
	for {
		ev, err := tr.Recv(ctx)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return events
		}
		events = append(events, *ev)
		if ev.IsTerminal() {
			return events
		}
	}
}

func kindsOf(events []types.StreamEvent) []types.EventKind {
	out := make([]types.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestHandleStreamNDJSONRoundTrip(t *testing.T) {
	h := newTestHandler(t, "glm-4", "qwen-max")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	t.Cleanup(srv.Close)

	tr := stream.NewNDJSONTransport(srv.URL, srv.Client(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Open(context.Background(), stream.StartRequest{
		Prompt: "compare approaches",
		Models: []string{"glm-4", "qwen-max"},
	}))

	events := drainEvents(t, tr)
	kinds := kindsOf(events)
	require.NotEmpty(t, kinds)

	assert.Equal(t, types.EventStreamStarted, kinds[0])
	assert.Equal(t, types.EventStreamCompleted, kinds[len(kinds)-1])
	assert.Contains(t, kinds, types.EventStrategySelected)
	assert.Contains(t, kinds, types.EventSynthesisCompleted)
}

func TestHandleStreamRejectsMissingPrompt(t *testing.T) {
	h := newTestHandler(t, "glm-4")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Post(srv.URL, "application/json", strings.NewReader(`{"model_config":["glm-4"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, string(types.ErrInvalidRequest), envelope.Error.Code)
}

func TestHandleStreamRejectsGet(t *testing.T) {
	h := newTestHandler(t, "glm-4")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleWSRoundTrip(t *testing.T) {
	h := newTestHandler(t, "glm-4", "qwen-max")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := stream.NewWSTransport(wsURL, stream.DefaultWSConfig(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Open(context.Background(), stream.StartRequest{
		Prompt: "compare approaches",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sawCompleted bool
	for !sawCompleted {
		ev, err := tr.Recv(ctx)
		require.NoError(t, err)
		if ev.Kind == types.EventStreamCompleted {
			sawCompleted = true
		}
	}
}

func TestHandleWSRejectsBadStartFrame(t *testing.T) {
	h := newTestHandler(t, "glm-4")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	// ping 先于 start_stream：策略违规关闭
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tr := stream.NewWSTransport(wsURL, stream.DefaultWSConfig(), zaptest.NewLogger(t))
	t.Cleanup(func() { _ = tr.Close() })

	// 空提示词的 start 帧被拒绝，连接很快关闭
	require.NoError(t, tr.Open(context.Background(), stream.StartRequest{Prompt: ""}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tr.Recv(ctx)
	require.Error(t, err)
}

func TestHandleBatch(t *testing.T) {
	h := newTestHandler(t, "glm-4", "qwen-max")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleBatch))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Post(srv.URL, "application/json",
		strings.NewReader(`{"prompt":"compare approaches"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Success bool   `json:"success"`
		Data    struct {
			FinalResponse string            `json:"final_response"`
			Failures      map[string]string `json:"failures"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.NotEmpty(t, envelope.Data.FinalResponse)
	assert.Empty(t, envelope.Data.Failures)
}

// 端到端：会话管理器经单向通道消费真实端点。
func TestSessionManagerAgainstNDJSONEndpoint(t *testing.T) {
	h := newTestHandler(t, "glm-4", "qwen-max")
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStream))
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	factory := func(kind stream.Kind) (stream.Transport, error) {
		return stream.NewNDJSONTransport(srv.URL, srv.Client(), logger), nil
	}

	m := stream.NewManager(factory, stream.Config{
		MaxReconnects:  3,
		ReconnectDelay: 10 * time.Millisecond,
		EventBuffer:    64,
	}, logger)
	t.Cleanup(m.StopSession)

	require.NoError(t, m.StartSession(context.Background(), stream.KindNDJSON, stream.StartRequest{
		Prompt: "compare approaches",
		Models: []string{"glm-4", "qwen-max"},
	}))

	require.Eventually(t, func() bool { return m.State() == stream.StateCompleted },
		10*time.Second, 5*time.Millisecond)

	snap := m.Session()
	require.NotNil(t, snap)
	assert.Len(t, snap.Models, 2)
	assert.NotEmpty(t, snap.FinalResponse)
	agg := snap.AggregateProgress
	assert.Equal(t, 1.0, agg)
}
