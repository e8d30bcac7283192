// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 提供长期记忆检索所需的底层构件：文档分块、内存向量索引
（HNSW）、上下文生成，以及供 loader 子包消费的加载器契约。memory 包的
长期存储在此基础上加装关键词融合与 RIF 排序，而不是直接依赖本包做
完整的检索管线。

# 核心接口/类型

  - VectorIndex — 向量索引接口，当前唯一实现是 HNSWIndex
  - Document — 分块与索引之间传递的文档单元，携带文本、元数据与 embedding
  - Tokenizer — 分块专用分词器接口，由 LLMTokenizerAdapter 桥接 llm/tokenizer
  - ContextProvider（隐式）— SimpleContextProvider 为 chunk 生成文档级上下文摘要

# 主要能力

  - 文档分块：固定大小、递归、语义、文档感知四种策略（DocumentChunker）
  - 向量索引：内存 HNSW 近似最近邻搜索，支持增量 Add/Delete
  - 上下文生成：为孤立 chunk 补充所属文档的简要上下文，减少检索歧义
  - 向量维度转换：Float32ToFloat64 / Float64ToFloat32，供 embedding 与索引层对接

混合检索、查询路由、多跳推理、Graph RAG 等更大的 RAG 管线不在此包范围内；
这里只提供 memory 系统实际需要的分块与索引原语。
*/
package rag
