/*
包 database 管理检测配置库的连接池：实体类型、扫描器定义、
关键词表、处置策略等配置都经由该池读取。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、WithTransaction()、Close()。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。

# 主要能力

  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 控制。
  - 健康检查：后台定时 PingContext 探活，供 /ready 端点复用。
  - 事务入口：WithTransaction 提供单次事务执行，失败回滚。
*/
package database
