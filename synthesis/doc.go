// 版权所有 2025 EnsembleFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 synthesis 把多个模型的加权完整响应合并为单一回答。

# 规范化

[Normalize] 在扇入阶段对每个成功响应做规范化：剥离起始免责声明与
参考资料尾注，压缩连续空行，按模型家族做格式化（未识别家族为空操作），
最后统一 markdown 标题与列表符号的空格。

# 合并

[Engine.Synthesize] 按条目数路由：

  - 空集合返回空串（allow-partial 下零成功是合法结果，不报错）。
  - 单条目原样返回，不做二次处理。
  - 两条目按权重降序：最高权重超过次高的支配倍数时直接取最高者
    （支配捷径）；否则切句、按 Jaccard 相似度去除近重复句后重联。
  - 三条目以上以最高权重响应为底稿，从其后两个候选中提取独特观点
    （与底稿每句相似度都低于独特阈值的句子），以固定标题分节追加。

条目数或单条长度超限的合并转入隔离工作协程执行，两条路径共用同一份
纯合并逻辑，结果一致。
*/
package synthesis
