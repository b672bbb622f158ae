package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/ensembleflow/types"
)

type fakeItem struct {
	ev  *types.StreamEvent
	err error
}

// fakeTransport 由测试脚本驱动的传输。Close 使阻塞中的 Recv 返回。
type fakeTransport struct {
	kind    Kind
	openErr error

	items chan fakeItem
	done  chan struct{}
	once  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		kind:  KindWebSocket,
		items: make(chan fakeItem, 64),
		done:  make(chan struct{}),
	}
}

func (f *fakeTransport) Open(ctx context.Context, req StartRequest) error {
	return f.openErr
}

func (f *fakeTransport) Recv(ctx context.Context) (*types.StreamEvent, error) {
	select {
	case item := <-f.items:
		return item.ev, item.err
	case <-f.done:
		return nil, errors.New("transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeTransport) Kind() Kind { return f.kind }

func (f *fakeTransport) emit(ev types.StreamEvent) {
	f.items <- fakeItem{ev: &ev}
}

func (f *fakeTransport) fail(err error) {
	f.items <- fakeItem{err: err}
}

func (f *fakeTransport) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// fakeFactory 按调用顺序记录生产的传输。
type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	calls      atomic.Int32
	openErrs   map[int]error // 第 n 次调用（从 0 起）的 Open 错误
}

func (ff *fakeFactory) factory(kind Kind) (Transport, error) {
	n := int(ff.calls.Add(1)) - 1
	t := newFakeTransport()
	if err, ok := ff.openErrs[n]; ok {
		t.openErr = err
	}
	ff.mu.Lock()
	ff.transports = append(ff.transports, t)
	ff.mu.Unlock()
	return t, nil
}

func (ff *fakeFactory) transport(n int) *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if n >= len(ff.transports) {
		return nil
	}
	return ff.transports[n]
}

func newTestManager(t *testing.T, ff *fakeFactory) *Manager {
	t.Helper()
	return NewManager(ff.factory, Config{
		MaxReconnects:  3,
		ReconnectDelay: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		EventBuffer:    16,
	}, zaptest.NewLogger(t))
}

func startSession(t *testing.T, m *Manager) {
	t.Helper()
	err := m.StartSession(context.Background(), KindWebSocket, StartRequest{
		Prompt: "compare the approaches",
		Models: []string{"glm-4", "qwen-max"},
	})
	require.NoError(t, err)
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		time.Second, time.Millisecond, "state never reached %s (now %s)", want, m.State())
}

func TestManagerLifecycle(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	assert.Equal(t, StateIdle, m.State())
	startSession(t, m)
	assert.Equal(t, StateConnected, m.State())

	ft := ff.transport(0)
	ft.emit(types.StreamEvent{Kind: types.EventStreamStarted, Models: []string{"glm-4", "qwen-max"}})
	waitState(t, m, StateStreaming)

	ft.emit(types.StreamEvent{Kind: types.EventStrategySelected, Strategy: "weighted_merge"})
	ft.emit(types.StreamEvent{Kind: types.EventModelChunk, Model: "glm-4", Chunk: "hello", Progress: 1.0})
	ft.emit(types.StreamEvent{Kind: types.EventStreamCompleted})
	waitState(t, m, StateCompleted)

	snap := m.Session()
	require.NotNil(t, snap)
	assert.Equal(t, "weighted_merge", snap.StrategyName)
	assert.Equal(t, ModelCompleted, snap.Models["glm-4"].Status)
	assert.Equal(t, 4, snap.EventCount)
}

func TestManagerErrorEventIsSticky(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	startSession(t, m)
	ft := ff.transport(0)
	ft.emit(types.StreamEvent{Kind: types.EventStreamStarted, Models: []string{"glm-4"}})
	waitState(t, m, StateStreaming)

	ft.emit(types.StreamEvent{Kind: types.EventModelStreamError, Model: "glm-4", Error: "boom"})
	waitState(t, m, StateError)

	// error 不被后续事件悄悄清除
	ft.emit(types.StreamEvent{Kind: types.EventStreamCompleted})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateError, m.State())
}

func TestManagerStopSession(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)

	startSession(t, m)
	require.NotNil(t, m.Session())

	m.StopSession()
	assert.Equal(t, StateIdle, m.State())
	assert.Nil(t, m.Session())
	assert.True(t, ff.transport(0).closed())

	// 幂等
	m.StopSession()
	assert.Equal(t, StateIdle, m.State())
}

func TestManagerSingletonSession(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	startSession(t, m)
	first := ff.transport(0)

	startSession(t, m)
	assert.True(t, first.closed(), "starting a new session must stop the previous one")
	assert.Equal(t, StateConnected, m.State())
}

func TestManagerReconnectOnFault(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	startSession(t, m)
	ff.transport(0).fail(types.NewError(types.ErrTransportFault, "connection lost").WithRetryable(true))

	require.Eventually(t, func() bool { return ff.calls.Load() == 2 },
		time.Second, time.Millisecond)
	waitState(t, m, StateConnected)

	// 重连后的传输继续供给事件
	ff.transport(1).emit(types.StreamEvent{Kind: types.EventStreamStarted, Models: []string{"glm-4"}})
	waitState(t, m, StateStreaming)
}

func TestManagerReconnectExhaustion(t *testing.T) {
	ff := &fakeFactory{openErrs: map[int]error{
		1: errors.New("dial refused"),
		2: errors.New("dial refused"),
	}}
	m := newTestManager(t, ff)
	defer m.StopSession()

	startSession(t, m)
	ff.transport(0).fail(types.NewError(types.ErrTransportFault, "connection lost").WithRetryable(true))

	waitState(t, m, StateError)
	require.Eventually(t, func() bool { return ff.calls.Load() == 3 },
		time.Second, time.Millisecond)

	// 达到上限后不再调度任何重试
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), ff.calls.Load())
	assert.Equal(t, StateError, m.State())
}

func TestManagerStreamEndWithoutTerminalEvent(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	startSession(t, m)
	ft := ff.transport(0)
	ft.emit(types.StreamEvent{Kind: types.EventStreamStarted, Models: []string{"glm-4"}})
	waitState(t, m, StateStreaming)

	ft.fail(io.EOF)
	waitState(t, m, StateCompleted)
}

func TestManagerSubscribe(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	events, cancel := m.Subscribe()
	defer cancel()

	startSession(t, m)
	ff.transport(0).emit(types.StreamEvent{Kind: types.EventModelChunk, Model: "glm-4", Chunk: "hi", Progress: 0.5})

	select {
	case ev := <-events:
		assert.Equal(t, types.EventModelChunk, ev.Kind)
		assert.NotEmpty(t, ev.SessionID)
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}
}

func TestManagerSubscribeText(t *testing.T) {
	ff := &fakeFactory{}
	m := newTestManager(t, ff)
	defer m.StopSession()

	lines, cancel := m.SubscribeText()
	defer cancel()

	startSession(t, m)
	ft := ff.transport(0)
	ft.emit(types.StreamEvent{Kind: types.EventModelChunk, Model: "glm-4", Chunk: "partial answer", Progress: 0.5})
	ft.emit(types.StreamEvent{Kind: types.EventSynthesisChunk, Chunk: "merged"})
	ft.emit(types.StreamEvent{Kind: types.EventSynthesisCompleted, FinalResponse: "done"})

	want := []string{"[glm-4] partial answer", "[SYNTHESIS] merged", "[FINAL] done"}
	for _, w := range want {
		select {
		case line := <-lines:
			assert.Equal(t, w, line)
		case <-time.After(time.Second):
			t.Fatalf("text feed missing line %q", w)
		}
	}
}

func TestManagerStartFailure(t *testing.T) {
	ff := &fakeFactory{openErrs: map[int]error{0: errors.New("dial refused")}}
	m := newTestManager(t, ff)

	err := m.StartSession(context.Background(), KindWebSocket, StartRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, StateError, m.State())
	assert.Nil(t, m.Session())
}
