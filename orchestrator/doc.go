// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 orchestrator 驱动一轮完整的多模型聚合。

[Orchestrator.Run] 是流式路径：解析模型与权重、选择合并策略、经
fanout 协调器并发驱动各模型后端、将成功结果交给合成引擎，全程以
规范化事件序列对外汇报。并发模型协程的事件发射经互斥串行化，
下游按单一顺序消费。

[Orchestrator.RunBatch] 是非流式路径：同样的扇出与合成，直接返回
最终回答与各模型失败表。

两条路径共享按 提示词+权重 构键的合成结果缓存。[Backend] 抽象单个
模型的调用端，[StubBackend] 是确定性的脚本化实现，用于本地运行与
测试。
*/
package orchestrator
