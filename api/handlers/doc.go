/*
Package handlers 提供检测服务 HTTP API 的请求处理器实现。

# 概述

handlers 包实现了检测服务所有 HTTP 端点的请求处理逻辑，
包括护栏检测、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - GuardrailsHandler — 护栏检测处理器（POST /v1/guardrails）
  - HealthHandler     — 服务健康检查（/health, /healthz, /ready）
  - Response          — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo         — 结构化错误信息
  - ResponseWriter    — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck       — 可插拔健康检查接口（数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - 租户解析：X-Tenant-ID / X-Application-ID 请求头，缺省 "default"
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
