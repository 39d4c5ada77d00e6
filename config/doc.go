// Package config 提供检测服务的配置管理功能。
//
// 包含配置加载、热重载和变更历史管理。
// 支持从文件与环境变量加载配置，
// 并提供运行时热重载能力。
package config
