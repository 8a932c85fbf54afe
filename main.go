package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperai/phoenix/go/orchestrator/internal/agents"
	"github.com/hyperai/phoenix/go/orchestrator/internal/config"
	"github.com/hyperai/phoenix/go/orchestrator/internal/coordinator"
	"github.com/hyperai/phoenix/go/orchestrator/internal/council"
	"github.com/hyperai/phoenix/go/orchestrator/internal/db"
	"github.com/hyperai/phoenix/go/orchestrator/internal/dispatch"
	"github.com/hyperai/phoenix/go/orchestrator/internal/events"
	"github.com/hyperai/phoenix/go/orchestrator/internal/health"
	"github.com/hyperai/phoenix/go/orchestrator/internal/httpapi"
	"github.com/hyperai/phoenix/go/orchestrator/internal/intent"
	"github.com/hyperai/phoenix/go/orchestrator/internal/llm"
	"github.com/hyperai/phoenix/go/orchestrator/internal/scheduler"
	"github.com/hyperai/phoenix/go/orchestrator/internal/search"
	"github.com/hyperai/phoenix/go/orchestrator/internal/state"
	"github.com/hyperai/phoenix/go/orchestrator/internal/tracing"
)

func main() {
	configPath := flag.String("config", os.Getenv("PHOENIX_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (no-op unless enabled).
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	healthMgr := health.NewManager(5 * time.Second)

	// Event sink, optionally mirrored to a Redis stream.
	var eventStore events.Store
	if cfg.Redis.Enabled {
		redisStore, err := events.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.StreamKey, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisStore.Close()
		eventStore = redisStore
		healthMgr.Register(health.NewPingChecker("redis", redisStore, false))
	}
	eventMgr := events.NewManager(1024, eventStore, logger)

	// Result persistence.
	var recorder coordinator.ResultRecorder
	var dbClient *db.Client
	if cfg.Database.Enabled {
		dbClient, err = db.NewClient(cfg.Database.DSN, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer dbClient.Close()
		healthMgr.Register(health.NewPingChecker("postgres", dbClient, true))

		writer := db.NewWriter(dbClient, 256, logger)
		defer writer.Close()
		recorder = writer
	}

	// Council engine with optional hot reload.
	councilCfg, err := council.LoadConfig(cfg.Council.ConfigPath)
	if err != nil {
		logger.Fatal("Failed to load council config", zap.Error(err))
	}
	councilEng := council.NewEngine(councilCfg, logger)
	if cfg.Council.HotReload && cfg.Council.ConfigPath != "" {
		watcher, err := config.NewCouncilWatcher(cfg.Council.ConfigPath, councilEng, logger)
		if err != nil {
			logger.Warn("Council hot reload disabled", zap.Error(err))
		} else {
			go watcher.Run(ctx)
		}
	}

	// Scheduler and dispatcher.
	sched := scheduler.New(scheduler.Config{
		ServiceCost:   cfg.Scheduler.ServiceCost,
		MaxQueueDepth: cfg.Scheduler.MaxQueueDepth,
		Adaptation: scheduler.AdaptationConfig{
			Enabled:      cfg.Scheduler.Adaptation.Enabled,
			LearningRate: cfg.Scheduler.Adaptation.LearningRate,
			Floor:        cfg.Scheduler.Adaptation.Floor,
			Ceiling:      cfg.Scheduler.Adaptation.Ceiling,
			WindowSize:   cfg.Scheduler.Adaptation.WindowSize,
			MinSamples:   cfg.Scheduler.Adaptation.MinSamples,
			HighWater:    cfg.Scheduler.Adaptation.HighWater,
			LowWater:     cfg.Scheduler.Adaptation.LowWater,
		},
	}, logger)
	dispatcher := dispatch.New(cfg.Dispatcher, sched, eventMgr, logger)

	// Worker agents. The analyzer gets the highest weight, the dialogue
	// handler the lowest, mirroring their relative value under load.
	var llmClient llm.Client
	if cfg.LLM.BaseURL != "" {
		c, err := llm.NewHTTPClient(cfg.LLM, logger)
		if err != nil {
			logger.Fatal("Failed to build llm client", zap.Error(err))
		}
		llmClient = c
	}
	var searchClient *search.Client
	if cfg.Search.Enabled {
		searchClient, err = search.NewClient(cfg.Search.BaseURL, cfg.Search.Timeout, logger)
		if err != nil {
			logger.Fatal("Failed to build search client", zap.Error(err))
		}
	}

	analyzer := agents.NewMetricsAnalyzer(cfg.Agents.Analyzer, eventMgr, searchClient, logger)
	proposer := agents.NewProposalGenerator(llmClient, logger)
	dialogue := agents.NewDialogueHandler(logger)
	mustRegister(logger, dispatcher, analyzer, cfg.Agents.AnalyzerWeight)
	mustRegister(logger, dispatcher, proposer, cfg.Agents.ProposerWeight)
	mustRegister(logger, dispatcher, dialogue, cfg.Agents.DialogueWeight)
	if err := dispatcher.SetDefaultAgent(dialogue.Name()); err != nil {
		logger.Fatal("Failed to set default agent", zap.Error(err))
	}

	// Coordinator.
	snapshots, err := state.NewStore(cfg.Coordinator.SnapshotPath, logger)
	if err != nil {
		logger.Fatal("Failed to open snapshot store", zap.Error(err))
	}
	ccfg := cfg.CoordinatorDefaults()
	coord := coordinator.New(coordinator.Config{
		IdleTimeout:         ccfg.IdleTimeout,
		ExecutionTimeout:    ccfg.ExecutionTimeout,
		ErrorBackoff:        ccfg.ErrorBackoff,
		MaxConsecutiveFails: ccfg.MaxConsecutiveFails,
		AlignmentBypass:     ccfg.AlignmentBypass,
		MaintenanceInterval: ccfg.MaintenanceInterval,
		DirectiveBuffer:     ccfg.DirectiveBuffer,
		ResultBuffer:        ccfg.ResultBuffer,
		MessageBuffer:       ccfg.MessageBuffer,
	}, intent.NewParser(intent.Config{
		TrustedSources:     cfg.Intent.TrustedSources,
		EscalationKeywords: cfg.Intent.EscalationKeywords,
	}), councilEng, dispatcher, eventMgr, snapshots, logger)
	if recorder != nil {
		coord.SetResultRecorder(recorder)
	}
	healthMgr.Register(health.NewHeartbeatChecker("coordinator", coord, 30*time.Second))
	// Generous staleness bound: the dispatch loop blocks while an agent runs.
	healthMgr.Register(health.NewHeartbeatChecker("dispatcher", dispatcher, 2*time.Minute))

	go dispatcher.Run(ctx)
	coordErr := make(chan error, 1)
	go func() { coordErr <- coord.Run(ctx) }()

	// Admin server: metrics and health probes.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	health.NewHandler(healthMgr).Register(adminMux)
	adminSrv := newHTTPServer(cfg.Server.AdminPort, adminMux)
	go serve(adminSrv, "admin", logger)

	// API server: directives, results, status, event stream.
	apiMux := http.NewServeMux()
	apiSrvHandlers := httpapi.NewServer(coord, eventMgr, logger)
	if dbClient != nil {
		apiSrvHandlers.SetResultStore(dbClient)
	}
	apiSrvHandlers.Register(apiMux)
	apiSrv := newHTTPServer(cfg.Server.APIPort, apiMux)
	go serve(apiSrv, "api", logger)

	logger.Info("Orchestrator started",
		zap.String("environment", cfg.Environment),
		zap.Int("api_port", cfg.Server.APIPort),
		zap.Int("admin_port", cfg.Server.AdminPort),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("Shutdown signal received", zap.String("signal", s.String()))
	case err := <-coordErr:
		if err != nil {
			logger.Error("Coordinator exited with fatal error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)

	if err := coord.Stop(10 * time.Second); err != nil {
		logger.Warn("Coordinator stop timed out", zap.Error(err))
	}
	cancel()
	logger.Info("Orchestrator stopped")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func mustRegister(logger *zap.Logger, d *dispatch.Dispatcher, agent agents.Agent, weight float64) {
	if err := d.RegisterAgent(agent, weight); err != nil {
		logger.Fatal("Failed to register agent",
			zap.String("agent", agent.Name()),
			zap.Error(err),
		)
	}
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // long-polling result waits
		IdleTimeout:  60 * time.Second,
	}
}

func serve(srv *http.Server, name string, logger *zap.Logger) {
	logger.Info("HTTP server listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server failed", zap.String("server", name), zap.Error(err))
	}
}
