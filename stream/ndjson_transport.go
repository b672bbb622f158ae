package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/ensembleflow/types"
)

// ndjson 扫描缓冲上限，单帧最大 1MB。
const ndjsonMaxFrame = 1 << 20

// NDJSONTransport 单向通道：发出一次请求后消费无界的换行分隔 JSON
// 帧序列。流在无终止事件的情况下结束是正常完成，Recv 返回 io.EOF。
type NDJSONTransport struct {
	url    string
	client *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// NewNDJSONTransport 创建单向通道传输。client 为 nil 时使用
// http.DefaultClient（流式响应不设整体超时）。
func NewNDJSONTransport(url string, client *http.Client, logger *zap.Logger) *NDJSONTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NDJSONTransport{
		url:    url,
		client: client,
		logger: logger.With(zap.String("component", "ndjson_transport")),
	}
}

// Kind 返回变体标识。
func (t *NDJSONTransport) Kind() Kind { return KindNDJSON }

// Open 发起请求并准备帧扫描。
func (t *NDJSONTransport) Open(ctx context.Context, req StartRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrTransportFault, "ndjson request").
			WithRetryable(true).
			WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return types.NewError(types.ErrTransportFault,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), ndjsonMaxFrame)

	t.mu.Lock()
	t.body = resp.Body
	t.scanner = scanner
	t.mu.Unlock()

	return nil
}

// Recv 读取下一帧。空行与格式错误的行记录日志后跳过；
// 流结束返回 io.EOF。
func (t *NDJSONTransport) Recv(ctx context.Context) (*types.StreamEvent, error) {
	t.mu.Lock()
	scanner := t.scanner
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return nil, fmt.Errorf("transport closed")
	}
	if scanner == nil {
		return nil, fmt.Errorf("transport not open")
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := ParseFrame(line)
		if err != nil {
			t.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if !types.KnownKind(ev.Kind) {
			t.logger.Warn("dropping unknown event kind", zap.String("kind", string(ev.Kind)))
			continue
		}
		return ev, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, types.NewError(types.ErrTransportFault, "ndjson read").
			WithRetryable(true).
			WithCause(err)
	}

	// 流自然结束：无终止事件也视为正常完成
	return nil, io.EOF
}

// Close 关闭响应流。幂等。
func (t *NDJSONTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.body != nil {
		return t.body.Close()
	}
	return nil
}
