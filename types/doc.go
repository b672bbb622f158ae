// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 types 提供引擎各层共享的基础类型：规范化流式事件模型与统一错误结构。

# 事件模型

[StreamEvent] 是两种传输通道（WebSocket 双向通道与 NDJSON 单向通道）
共同的规范化事件表示。事件一经产生即不可变，按传输到达顺序追加到会话
事件日志。未知事件类型由上层记录日志后丢弃，不会使会话失败。

# 错误模型

[Error] 携带错误码、可重试标记与原因链。错误码划分为四类语义：

  - 传输故障（TRANSPORT_FAULT / HEARTBEAT_TIMEOUT）：由会话管理器按
    重连策略处理，超过最大次数后成为终态会话错误。
  - 模型调用失败（MODEL_CALL_FAILURE / MODEL_TIMEOUT）：按模型记录，
    不影响无关调用方。
  - 协议解析失败（PROTOCOL_PARSE）：记录日志并丢弃帧，会话继续。
  - 合成失败（SYNTHESIS_EMPTY）：无可合并内容时产出空串而非报错。
*/
package types
