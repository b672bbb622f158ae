// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 fanout 提供多模型并发调用的扇出/扇入协调与并发限流。

# 限流器

[Limiter] 是一个 FIFO 计数信号量：槽位按等待者入队顺序授予，
释放时直接交接给队首等待者，不存在插队窗口。容量默认 3。

# 协调器

[Coordinator] 为每个模型调用启动一个协程，先获取限流器槽位再执行，
释放走 defer 保证路径。结果按部分结果策略归集：

  - allow-partial：成功与失败分别归集，仅当全部失败时返回致命错误。
  - fail-fast：首个失败立即传播，其余在途调用的结果被丢弃。

成功结果在归集时经过规范化流水线（见 synthesis 包），
失败之间互不影响，单个模型的超时或错误不会污染其他模型的结果。
*/
package fanout
