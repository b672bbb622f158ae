// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 实现对外 HTTP/WebSocket 端点。

  - POST /v1/ensemble/stream — 单向通道，换行分隔 JSON 事件帧
  - GET  /v1/ensemble/ws     — 持久双向通道，start_stream/ping 入站，
    事件帧与心跳帧出站
  - POST /v1/ensemble/batch  — 非流式聚合
  - GET  /v1/models          — 已注册模型与权重
  - GET  /health, /healthz   — 健康检查

错误统一经 [WriteError] 以 Response 信封返回，错误码映射 HTTP 状态。
*/
package handlers
