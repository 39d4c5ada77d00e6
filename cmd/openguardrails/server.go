package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/openguardrails/openguardrails-sub000/answer"
	"github.com/openguardrails/openguardrails-sub000/api/handlers"
	"github.com/openguardrails/openguardrails-sub000/config"
	"github.com/openguardrails/openguardrails-sub000/disposal"
	"github.com/openguardrails/openguardrails-sub000/entity"
	"github.com/openguardrails/openguardrails-sub000/guardrail"
	"github.com/openguardrails/openguardrails-sub000/internal/cache"
	"github.com/openguardrails/openguardrails-sub000/internal/database"
	"github.com/openguardrails/openguardrails-sub000/internal/metrics"
	"github.com/openguardrails/openguardrails-sub000/internal/server"
	"github.com/openguardrails/openguardrails-sub000/internal/telemetry"
	"github.com/openguardrails/openguardrails-sub000/keyword"
	"github.com/openguardrails/openguardrails-sub000/logsink"
	"github.com/openguardrails/openguardrails-sub000/modelclient"
	"github.com/openguardrails/openguardrails-sub000/riskconfig"
	"github.com/openguardrails/openguardrails-sub000/sandbox"
	"github.com/openguardrails/openguardrails-sub000/scanner"
	"github.com/openguardrails/openguardrails-sub000/store"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// configSource 检测流水线的全部配置来源。
// Store 与 CachedStore 均满足该接口。
type configSource interface {
	keyword.Provider
	entity.Provider
	scanner.Provider
	riskconfig.Provider
	disposal.PolicyProvider
	answer.Provider
}

// Server 是检测服务的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	db           *gorm.DB
	pool         *database.PoolManager
	cacheManager *cache.Manager
	cachedStore  *store.CachedStore
	mongoClient  *mongo.Client
	otel         *telemetry.Providers

	// 检测流水线
	orchestrator *guardrail.Orchestrator
	logs         *logsink.Logger
	sandboxExec  *sandbox.Executor

	// Handlers
	healthHandler     *handlers.HealthHandler
	guardrailsHandler *handlers.GuardrailsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otelProviders,
		db:         db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("openguardrails", s.logger)

	// 2. 初始化检测流水线（存储 → 缓存 → 各检测组件 → 编排器）
	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init detection pipeline: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initPipeline 组装检测流水线
func (s *Server) initPipeline() error {
	// 数据库连接池
	pool, err := database.NewPoolManager(s.db, database.PoolConfig{
		MaxIdleConns:        s.cfg.Database.MaxIdleConns,
		MaxOpenConns:        s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
		HealthCheckInterval: 0,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("init database pool: %w", err)
	}
	s.pool = pool

	// 配置存储
	st := store.NewStore(pool.DB(), s.logger)
	if err := st.AutoMigrate(); err != nil {
		return fmt.Errorf("auto migrate config store: %w", err)
	}

	// Redis 缓存层可选：不可用时直接读库
	var source configSource = st
	if cacheManager, err := cache.NewManager(s.cfg.Redis.CacheConfig(), s.logger); err != nil {
		s.logger.Warn("Redis not available, config cache disabled", zap.Error(err))
	} else {
		cached, err := store.NewCachedStore(st, cacheManager, s.metricsCollector, s.cfg.Redis.DefaultTTL, s.logger)
		if err != nil {
			s.logger.Warn("Config cache subscription failed, reading store directly", zap.Error(err))
			cacheManager.Close()
		} else {
			s.cacheManager = cacheManager
			s.cachedStore = cached
			source = cached
		}
	}

	// 检测日志落盘：默认 zap，可选 MongoDB 归档
	var sink logsink.Sink
	if s.cfg.Mongo.Enabled {
		client, err := mongo.Connect(options.Client().ApplyURI(s.cfg.Mongo.URI))
		if err != nil {
			s.logger.Warn("MongoDB not available, falling back to zap log sink", zap.Error(err))
			sink = logsink.NewZapSink(s.logger)
		} else {
			s.mongoClient = client
			collection := client.Database(s.cfg.Mongo.Database).Collection(s.cfg.Mongo.Collection)
			sink = logsink.NewMongoSink(collection)
			s.logger.Info("MongoDB detection log sink enabled",
				zap.String("database", s.cfg.Mongo.Database),
				zap.String("collection", s.cfg.Mongo.Collection),
			)
		}
	} else {
		sink = logsink.NewZapSink(s.logger)
	}
	s.logs = logsink.NewLogger(sink, s.cfg.LogSink.SinkConfig(), s.logger)

	// 检测模型客户端与各检测组件
	model := modelclient.NewClient(s.cfg.Model.ClientConfig(), s.logger)
	riskCache := riskconfig.NewCache(source, riskconfig.DefaultCacheConfig(), s.logger)

	// genai_code 脱敏程序在沙箱执行器中运行
	s.sandboxExec = sandbox.NewExecutor(sandbox.DefaultExecutorConfig(), s.logger)
	entityDeps := entity.Dependencies{
		Rewriter:  model,
		Extractor: model,
		Sandbox:   s.sandboxExec,
	}

	deps := guardrail.Dependencies{
		Keywords: keyword.NewIndex(source, keyword.DefaultIndexConfig(), s.logger),
		Entities: entity.NewDetector(source, entityDeps, s.logger),
		Scanners: scanner.NewEngine(source, model, riskCache, s.cfg.Detection.ScannerConfig(), s.logger),
		Disposal: disposal.NewEngine(source, disposal.DefaultGeneralPolicy(), s.logger),
		Answers:  answer.NewSelector(source, nil, nil, answer.DefaultSelectorConfig(), s.logger),
		Logs:     s.logs,
		Metrics:  s.metricsCollector,
	}
	s.orchestrator = guardrail.NewOrchestrator(s.cfg.Detection.GuardrailConfig(), deps, s.logger)

	s.logger.Info("Detection pipeline initialized",
		zap.Bool("config_cache", s.cachedStore != nil),
		zap.String("detection_model", s.cfg.Model.Model),
	)
	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.pool.Ping))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.cacheManager.Ping))
	}

	s.guardrailsHandler = handlers.NewGuardrailsHandler(s.orchestrator, s.logger)

	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动检测 API 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 检测 API
	mux.HandleFunc("/v1/guardrails", s.guardrailsHandler.HandleCheck)

	// 中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务。
// 先停止接收新请求，再排空异步检测任务与日志队列，最后释放连接。
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 等待编排器的异步封禁任务，随后排空检测日志队列
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
	if s.sandboxExec != nil {
		s.sandboxExec.Close()
	}
	if s.logs != nil {
		s.logs.Close()
	}

	if s.cachedStore != nil {
		s.cachedStore.Close()
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			s.logger.Error("MongoDB disconnect error", zap.Error(err))
		}
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
