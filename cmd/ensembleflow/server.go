package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/ensembleflow/api/handlers"
	"github.com/BaSui01/ensembleflow/config"
	"github.com/BaSui01/ensembleflow/fanout"
	"github.com/BaSui01/ensembleflow/internal/cache"
	"github.com/BaSui01/ensembleflow/internal/metrics"
	"github.com/BaSui01/ensembleflow/internal/pool"
	"github.com/BaSui01/ensembleflow/internal/server"
	"github.com/BaSui01/ensembleflow/internal/tokens"
	"github.com/BaSui01/ensembleflow/orchestrator"
	"github.com/BaSui01/ensembleflow/synthesis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 EnsembleFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	streamHandler *handlers.StreamHandler
	healthHandler *handlers.HealthHandler
	modelsHandler *handlers.ModelsHandler

	// 聚合管线
	workerPool   *pool.WorkerPool
	cacheManager *cache.Manager

	// 指标收集器
	metricsCollector *metrics.Collector

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	namespace := s.cfg.Metrics.Namespace
	if namespace == "" {
		namespace = "ensembleflow"
	}
	s.metricsCollector = metrics.NewCollector(namespace, prometheus.DefaultRegisterer, s.logger)

	// 2. 初始化聚合管线与 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if s.cfg.Metrics.Enabled {
		if err := s.startMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.cfg.Server.Addr),
		zap.String("metrics_addr", s.cfg.Metrics.Addr),
		zap.Bool("metrics_enabled", s.cfg.Metrics.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 组装聚合管线并初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(Version, s.logger)

	// 合成引擎（大负载合并在工作池中隔离执行）
	s.workerPool = pool.NewWorkerPool(pool.WorkerPoolConfig{
		Workers:   s.cfg.Synthesis.Workers,
		QueueSize: s.cfg.Synthesis.Workers * 16,
	})
	engine := synthesis.NewEngine(synthesis.Config{
		DuplicateThreshold: s.cfg.Synthesis.DuplicateThreshold,
		UniqueThreshold:    s.cfg.Synthesis.UniqueThreshold,
		DominantMultiplier: s.cfg.Synthesis.DominanceMultiplier,
		OffloadEntryLimit:  s.cfg.Synthesis.OffloadEntryLimit,
		OffloadCharLimit:   s.cfg.Synthesis.OffloadCharLimit,
	}, s.workerPool, s.logger).WithMetrics(s.metricsCollector)

	// 并发扇出协调器
	policy, err := fanout.ParsePolicy(s.cfg.Fanout.Policy)
	if err != nil {
		return err
	}
	limiter := fanout.NewLimiter(s.cfg.Fanout.Capacity)
	coordinator := fanout.NewCoordinator(limiter, fanout.Config{
		CallTimeout: s.cfg.Fanout.CallTimeout,
		Policy:      policy,
	}, s.logger).WithMetrics(s.metricsCollector)

	// 模型注册表（内置确定性演示后端）
	registry := orchestrator.NewRegistry()
	for _, model := range s.cfg.Models.Default {
		registry.Register(orchestrator.NewStubBackend(model, orchestrator.StubBackendConfig{
			ChunkDelay: s.cfg.Models.StubChunkDelay,
			FailAt:     -1,
		}))
	}

	// 编排器
	orch := orchestrator.New(
		registry,
		coordinator,
		engine,
		tokens.NewTiktokenEstimator(""),
		orchestrator.Options{
			DefaultModels:  s.cfg.Models.Default,
			DefaultWeights: s.cfg.Models.Weights,
			CacheTTL:       s.cfg.Cache.DefaultTTL,
		},
		s.logger,
	).WithMetrics(s.metricsCollector)

	// 合成结果缓存（可选）
	if s.cfg.Cache.Enabled {
		cm, err := cache.NewManager(cache.Config{
			Enabled:    true,
			Addr:       s.cfg.Cache.Addr,
			Password:   s.cfg.Cache.Password,
			DB:         s.cfg.Cache.DB,
			DefaultTTL: s.cfg.Cache.DefaultTTL,
		}, s.logger)
		if err != nil {
			s.logger.Warn("Cache not available, synthesis cache disabled", zap.Error(err))
		} else {
			s.cacheManager = cm
			orch.WithCache(cm)
			s.healthHandler.RegisterCheck(handlers.HealthCheckFunc{
				CheckName: "cache",
				Fn:        cm.HealthCheck,
			})
			s.logger.Info("Synthesis cache enabled", zap.String("addr", s.cfg.Cache.Addr))
		}
	}

	// 流式与批式端点
	s.streamHandler = handlers.NewStreamHandler(orch, handlers.StreamHandlerConfig{
		HeartbeatInterval: s.cfg.Stream.HeartbeatInterval,
		RunTimeout:        s.cfg.Fanout.CallTimeout * 2,
	}, s.logger)
	s.modelsHandler = handlers.NewModelsHandler(registry, s.cfg.Models.Weights, s.logger)

	s.logger.Info("Handlers initialized", zap.Strings("models", s.cfg.Models.Default))
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)

	// 版本信息端点
	mux.HandleFunc("/version", handleVersion)

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("/v1/ensemble/stream", s.streamHandler.HandleStream)
	mux.HandleFunc("/v1/ensemble/ws", s.streamHandler.HandleWS)
	mux.HandleFunc("/v1/ensemble/batch", s.streamHandler.HandleBatch)
	mux.HandleFunc("/v1/models", s.modelsHandler.HandleModels)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            s.cfg.Server.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// handleVersion 返回构建版本信息
func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            s.cfg.Metrics.Addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞等待服务器运行错误或关闭信号，然后优雅关闭
func (s *Server) WaitForShutdown(stop <-chan struct{}) {
	select {
	case err := <-s.httpManager.Err():
		s.logger.Error("HTTP server error", zap.Error(err))
	case <-stop:
		s.logger.Info("Shutdown signal received")
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭合成工作池与缓存连接
	if s.workerPool != nil {
		s.workerPool.Close()
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	// 4. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
