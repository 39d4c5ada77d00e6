/*
包 cache 为检测流水线提供基于 Redis 的配置缓存，支持连接池、
健康检查、JSON 序列化与跨实例的配置失效广播。

# 概述

本包封装 go-redis 客户端。Manager 负责连接生命周期管理，
为关键词名单、敏感实体类型、扫描器、风险配置、处置策略与
回答模板等配置提供统一的缓存读写接口。管理面写库后通过
PublishInvalidation 广播变更，各检测实例订阅后删除对应缓存键，
下一次检测自然回源数据库。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete 等基础操作与 GetJSON/SetJSON 序列化方法，
    以及 PublishInvalidation/SubscribeInvalidations 失效广播。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。
  - Event：一次配置变更事件，携带作用域与租户/应用标识，
    Keys 方法给出需要删除的缓存键。

# 主要能力

  - 键值读写：支持字符串与 JSON 两种模式的配置存取。
  - 失效广播：基于 Redis Pub/Sub 的跨实例缓存失效。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
