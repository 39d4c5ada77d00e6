// Package api 定义检测服务 HTTP API 的请求与响应结构。
//
// # API Overview
//
// 检测服务对外提供一个核心端点：
//   - POST /v1/guardrails — 对一段会话执行护栏检测并返回处置建议
//
// 以及健康检查与版本端点（/health, /healthz, /ready, /version）。
//
// # Tenancy
//
// 租户与应用通过请求头传递：
//
//	X-Tenant-ID: <tenant>
//	X-Application-ID: <application>
//
// 缺省时落到 "default" 租户的租户级配置。
//
// # Base URL
//
// 默认监听地址：
//
//	http://localhost:5001
package api
