// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// 包 api 定义对外 HTTP/WebSocket 接口的请求与帧结构。
package api

// StreamRequest 流式聚合请求。单向通道作为请求体提交，
// 双向通道包在 start_stream 帧里提交。
type StreamRequest struct {
	// Prompt 用户提示词
	Prompt string `json:"prompt"`
	// ModelConfig 参与聚合的模型标识，空表示使用服务端默认集合
	ModelConfig []string `json:"model_config,omitempty"`
	// CustomWeights 请求级权重覆盖，缺省模型按服务端默认权重
	CustomWeights map[string]float64 `json:"custom_weights,omitempty"`
	// Mode 合并模式提示，当前透传
	Mode string `json:"mode,omitempty"`
	// ConversationID 会话关联标识
	ConversationID string `json:"conversation_id,omitempty"`
}

// WSFrame 双向通道上的入站控制帧。
type WSFrame struct {
	Type           string             `json:"type"`
	Timestamp      int64              `json:"timestamp,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Prompt         string             `json:"prompt,omitempty"`
	ModelConfig    []string           `json:"model_config,omitempty"`
	CustomWeights  map[string]float64 `json:"custom_weights,omitempty"`
	Mode           string             `json:"mode,omitempty"`
}

// 入站帧类型
const (
	FrameStartStream = "start_stream"
	FramePing        = "ping"
)

// BatchResponse 非流式聚合响应。
type BatchResponse struct {
	FinalResponse string            `json:"final_response"`
	Failures      map[string]string `json:"failures,omitempty"`
}
