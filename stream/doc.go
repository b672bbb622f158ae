// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 stream 提供流式编排会话的传输适配与会话管理。

# 传输变体

[Transport] 以同一接口抽象两种通道，上层对变体无感知：

  - [WSTransport]：持久双向通道。发送起始帧后按固定间隔发出保活帧，
    并监测入站帧静默：超过 间隔+超时 没有任何入站帧即视为心跳缺失，
    作为传输故障上报，与应用层错误事件严格区分。
  - [NDJSONTransport]：单向通道。一次请求后消费无界的换行分隔 JSON
    帧序列；流在无终止事件的情况下结束是正常完成而非故障。

两种通道上格式错误的帧与未知事件类型都只记录日志后丢弃，不使会话失败。

# 会话管理

[Manager] 是单例会话状态机：

	idle → connecting → connected → streaming → completed

传输故障或应用层错误事件使会话进入 error。传输故障按线性递增退避
重连并上报尝试次数；连续故障达到上限后永久停留在 error，不做任何
静默恢复，必须由调用方显式重启。事件严格按传输到达顺序应用到会话，
进度只进不退，总体进度是已发声模型完成度的平均值。
*/
package stream
