package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duskvane/aegis/channelbus"
	"github.com/duskvane/aegis/config"
	"github.com/duskvane/aegis/gateway"
	"github.com/duskvane/aegis/internal/metrics"
	"github.com/duskvane/aegis/internal/telemetry"
	"github.com/duskvane/aegis/llm/cache"
	"github.com/duskvane/aegis/llm/embedding"
	"github.com/duskvane/aegis/llm/openaicompat"
	"github.com/duskvane/aegis/memory"
	"github.com/duskvane/aegis/queue"
	"github.com/duskvane/aegis/session"
	"github.com/duskvane/aegis/supervisor"
	"github.com/duskvane/aegis/task"
	"github.com/duskvane/aegis/toolregistry"
)

// defaultAgentID names the single supervisor agent this process runs. A
// multi-agent deployment would derive this per tenant; this repo runs one.
const defaultAgentID = "assistant"

// Server owns every long-lived component's lifecycle: construction order
// follows the dependency chain (embedder and LLM provider -> memory ->
// tools -> sessions -> supervisor -> queue -> channel bus -> gateway; the
// LLM provider comes first because the memory system's summarizer uses
// it), and shutdown stops the gateway first and the memory system after.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	memSystem *memory.System
	sessions  *session.Store
	tasks     *task.Store
	dq        *queue.Queue
	bus       *channelbus.Bus
	worker    *queue.Worker
	gw        *gateway.Server

	httpSrv     *http.Server
	healthSrv   *http.Server
	telemetry   *telemetry.Providers
	redisClient *redis.Client
	collector   *metrics.Collector
	shutdownCh  chan os.Signal
	doneCh      chan struct{}
}

// NewServer builds every component but does not start any goroutines or
// listeners yet.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	telemetryProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	collector := metrics.NewCollector("aegis_gateway", logger)

	embedder := embedding.NewProvider(embedding.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    30 * time.Second,
	})

	provider := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		Metrics:      collector,
	}, logger)
	summarizer := newChatSummarizer(provider, cfg.LLM.Model)

	memCfg := memory.SystemConfig{
		DataDir: cfg.Memory.DataDir,
		Working: memory.WorkingConfig{
			BudgetTokens: cfg.Memory.WorkingBudgetTokens,
			KeepLastN:    cfg.Memory.KeepLastN,
		},
		LongTerm: memory.LongTermConfig{
			DataDir:    cfg.Memory.DataDir + "/longterm",
			Dimensions: cfg.Embedding.Dimensions,
			Weights: memory.FusionWeights{
				Vector:  cfg.Memory.FusionWeightVector,
				Keyword: cfg.Memory.FusionWeightKeyword,
				RIF:     cfg.Memory.FusionWeightRIF,
			},
			RIFWeights: memory.RIFWeights{
				Recency:    memory.DefaultRIFWeights.Recency,
				Importance: memory.DefaultRIFWeights.Importance,
				Frequency:  memory.DefaultRIFWeights.Frequency,
			},
		},
		ConsolidateEvery: cfg.Memory.ConsolidateEvery,
	}
	memSystem, err := memory.New(memCfg, embedder, summarizer, logger)
	if err != nil {
		return nil, fmt.Errorf("init memory system: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Memory.RecallCacheEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		cacheCfg := cache.DefaultCacheConfig()
		cacheCfg.RedisTTL = cfg.Memory.RecallCacheTTL
		recallCache := cache.NewMultiLevelCache(redisClient, cacheCfg, logger)
		recallCache.SetMetrics(collector)
		memSystem.RecallCache = recallCache
	}

	tokenCounter, err := newTokenCounter(cfg.LLM.Model)
	if err != nil {
		logger.Warn("falling back to rune-count token estimation", zap.Error(err))
	} else {
		memSystem.Working = memory.NewWorking(memCfg.Working, tokenCounter, summarizer)
	}

	taskStore, err := task.NewStore(cfg.Memory.DataDir+"/tasks", logger)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	tools := toolregistry.NewRegistry(logger)
	if err := registerBuiltinTools(tools, memSystem, taskStore, logger); err != nil {
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}

	agentCfg := supervisor.Config{
		SystemPrompt:      cfg.Agent.SystemPrompt,
		MaxSteps:          cfg.Agent.MaxSteps,
		LLMTimeout:        cfg.Agent.LLMTimeout,
		ToolTimeout:       cfg.Agent.ToolTimeout,
		LLMRetryAttempts:  cfg.Agent.LLMRetryAttempts,
		LLMRetryBaseDelay: cfg.Agent.LLMRetryBaseDelay,
		ConfirmationTTL:   cfg.Agent.ConfirmationTTL,
		RecallTopK:        cfg.Agent.RecallTopK,
	}

	sessions, err := session.NewStore(cfg.Memory.DataDir+"/sessions", logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	agent := supervisor.New(provider, cfg.LLM.Model, tools, sessions, memSystem, agentCfg, logger)
	agent.SetMetrics(collector)

	dq, err := queue.New(cfg.Queue.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open delivery queue: %w", err)
	}

	bus := channelbus.New(logger)
	worker := queue.NewWorker(dq, bus, cfg.Queue.PollInterval, cfg.Queue.Workers, logger)

	handlers := newGatewayHandlers(agent, sessions, defaultAgentID, logger)
	gwCfg := gateway.Config{
		ListenAddr:     cfg.Gateway.ListenAddr,
		AuthToken:      cfg.Gateway.AuthToken,
		JWTSecret:      cfg.Gateway.JWTSecret,
		MaxConnections: cfg.Gateway.MaxConnections,
		MaxTextChars:   cfg.Gateway.MaxTextChars,
		MaxFrameBytes:  cfg.Gateway.MaxFrameBytes,
		RateLimitRPS:   cfg.Gateway.RateLimitRPS,
		RateLimitBurst: cfg.Gateway.RateLimitBurst,
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		Version:        Version,
	}
	gw := gateway.New(gwCfg, handlers, logger)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		memSystem:  memSystem,
		sessions:   sessions,
		tasks:      taskStore,
		dq:         dq,
		bus:        bus,
		worker:     worker,
		gw:         gw,
		telemetry:   telemetryProviders,
		redisClient: redisClient,
		collector:   collector,
		shutdownCh:  make(chan os.Signal, 1),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start launches the WebSocket gateway, the plain-HTTP health/metrics
// listener, the delivery worker, and the consolidation loop.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())

	go s.worker.Run(ctx)
	go s.memSystem.RunConsolidationLoop(ctx)
	if s.redisClient != nil {
		go s.reportRedisPoolMetrics(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/", s.gw)
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Gateway.ListenAddr,
		Handler:      mux,
		WriteTimeout: s.cfg.Gateway.WriteTimeout,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(gateway.HealthResult{
			Status:    "ok",
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	healthMux.Handle("/metrics", promhttp.Handler())
	healthHandler := Chain(healthMux, RequestID(), SecurityHeaders(), RequestLogger(s.logger), MetricsMiddleware(s.collector), Recovery(s.logger))
	s.healthSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HealthPort),
		Handler:      healthHandler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		s.logger.Info("gateway listening", zap.String("addr", s.cfg.Gateway.ListenAddr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("gateway listener stopped", zap.Error(err))
		}
	}()
	go func() {
		s.logger.Info("health/metrics listening", zap.String("addr", s.healthSrv.Addr))
		if err := s.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health listener stopped", zap.Error(err))
		}
	}()

	signal.Notify(s.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-s.shutdownCh
		s.logger.Info("shutdown signal received")
		cancel()
		s.shutdown()
		close(s.doneCh)
	}()

	return nil
}

// reportRedisPoolMetrics samples the Redis connection pool on a fixed
// interval and reports it through the shared collector's database gauges.
// Redis is the closest thing this system has to a "database" connection
// pool (the memory system's other stores are on-disk JSONL, with no pool
// to report), so it's labeled "redis" rather than left unused.
func (s *Server) reportRedisPoolMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.redisClient.PoolStats()
			s.collector.RecordDBConnections("redis", int(stats.TotalConns-stats.IdleConns), int(stats.IdleConns))
		}
	}
}

// WaitForShutdown blocks until a shutdown signal has been fully handled.
func (s *Server) WaitForShutdown() {
	<-s.doneCh
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.gw.Shutdown(ctx); err != nil {
		s.logger.Warn("gateway shutdown error", zap.Error(err))
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", zap.Error(err))
	}
	if err := s.healthSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("health server shutdown error", zap.Error(err))
	}
	if err := s.memSystem.Close(); err != nil {
		s.logger.Warn("memory system close error", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("redis client close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
}
