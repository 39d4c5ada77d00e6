/*
包 metrics 提供基于 Prometheus 的检测流水线指标采集能力，覆盖
检测、检测模型、流式检测、缓存与检测日志五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 检测指标：检测总数、整体耗时、流水线各阶段耗时，
    按 direction/risk_level/suggest_action/stage 分组。
  - 检测模型指标：模型调用总数与耗时，按 model/status 分组。
  - 流式检测指标：分块检测结果计数，按 mode/outcome 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 检测日志指标：日志写入结果计数，按 status 分组。
*/
package metrics
