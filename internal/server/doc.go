/*
包 server 管理检测服务的监听端口生命周期，承载检测 API 与
Metrics 两个端口：非阻塞启动、优雅关闭与系统信号监听。

# 核心类型

  - Manager：端口管理器，持有 http.Server、net.Listener 与
    异步错误通道，提供 Start/Shutdown/WaitForShutdown 等
    生命周期方法。
  - Config：端口配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭的排空时限。

# 主要能力

  - 非阻塞启动：Start 绑定端口后在后台 goroutine 中服务，
    绑定失败同步返回。
  - 优雅关闭：Shutdown 在配置的时限内排空在途检测请求，
    重复调用无害。
  - 信号监听：WaitForShutdown 监听 SIGINT/SIGTERM，收到信号后
    自动触发优雅关闭流程。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
*/
package server
