package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lumenlab/oracle/internal/cascade"
	"github.com/lumenlab/oracle/internal/catalog"
	"github.com/lumenlab/oracle/internal/circuitbreaker"
	"github.com/lumenlab/oracle/internal/config"
	"github.com/lumenlab/oracle/internal/embeddings"
	"github.com/lumenlab/oracle/internal/health"
	"github.com/lumenlab/oracle/internal/httpapi"
	"github.com/lumenlab/oracle/internal/llm"
	"github.com/lumenlab/oracle/internal/orchestrator"
	"github.com/lumenlab/oracle/internal/persist"
	"github.com/lumenlab/oracle/internal/research"
	"github.com/lumenlab/oracle/internal/retrieval"
	"github.com/lumenlab/oracle/internal/session"
	"github.com/lumenlab/oracle/internal/tracing"
	"github.com/lumenlab/oracle/internal/vectordb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("tracing initialization failed, continuing without export", zap.Error(err))
	}

	// Shared Redis handle for sessions and the embedding cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)
	defer redisWrapper.Close()

	db, err := persist.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	// One breaker-wrapped handle shared by catalog reads, persistence, and
	// the health probe.
	dbWrapper := circuitbreaker.NewDatabaseWrapper(db, logger)
	catalogs := catalog.NewStore(dbWrapper, logger)
	writer := persist.NewWriter(dbWrapper, 2, logger)

	var embedCache embeddings.Cache
	if cfg.Embeddings.EnableRedis {
		embedCache = embeddings.NewRedisCache(redisWrapper)
	}
	embedder := embeddings.NewService(cfg.Embeddings, embedCache)
	vector := vectordb.NewClient(cfg.VectorDB, logger)

	candidates := buildCandidates(cfg, logger)
	if len(candidates) == 0 {
		logger.Fatal("no usable generation candidates configured")
	}

	providers := buildSearchProviders(cfg, logger)
	planLLM := auxiliaryProvider(cfg.Research.PlannerModel, candidates, logger)
	synthLLM := auxiliaryProvider(cfg.Research.SynthModel, candidates, logger)

	ranker := retrieval.NewRanker(cfg.Retrieval, cfg.Budget, catalogs, embedder, vector, logger)
	researcher := research.NewPlanner(cfg.Research, providers, planLLM, synthLLM, logger)
	executor := cascade.NewExecutor(cfg.Cascade, cfg.Budget, logger)
	sessions := session.NewStore(redisWrapper, cfg.Session, logger)

	opts := orchestrator.Options{Sessions: sessions, Writer: writer}
	if path := os.Getenv("TUNABLES_PATH"); path != "" {
		manager, merr := config.NewManager(path, cfg, logger)
		if merr != nil {
			logger.Warn("tunables file unavailable, using static config", zap.Error(merr))
		} else if serr := manager.Start(); serr != nil {
			logger.Warn("tunables watch failed, using static config", zap.Error(serr))
		} else {
			manager.OnChange(func(t config.Tunables) {
				ranker.SetExcerptMaxChars(t.ExcerptMaxChars)
			})
			opts.Tunables = manager
			defer manager.Stop()
		}
	}

	orch := orchestrator.New(cfg, ranker, researcher, executor, candidates, opts, logger)

	// Admin endpoints: health probes plus Prometheus metrics.
	hm := health.NewManager(0, logger)
	hm.Register(health.NewRedisChecker(redisWrapper))
	hm.Register(health.NewDatabaseChecker(dbWrapper))
	if cfg.VectorDB.Enabled {
		hm.Register(health.NewEndpointChecker("vectordb",
			fmt.Sprintf("http://%s:%d/readyz", cfg.VectorDB.Host, cfg.VectorDB.Port)))
	}
	hm.Start()
	defer hm.Stop()

	adminMux := http.NewServeMux()
	health.NewHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())
	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.HealthPort),
		Handler: adminMux,
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", zap.Error(err))
		}
	}()

	apiMux := http.NewServeMux()
	httpapi.NewHandler(orch, cfg.Budget.RequestDeadline, logger).RegisterRoutes(apiMux)
	apiSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: apiMux,
	}
	go func() {
		logger.Info("query API listening",
			zap.Int("port", cfg.Service.Port),
			zap.Int("health_port", cfg.Service.HealthPort),
		)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown incomplete", zap.Error(err))
	}
	// Drain pending answer writes before the database handle closes.
	writer.Stop()
	logger.Info("shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// buildCandidates constructs the preference-ordered generation backends.
// A candidate whose credentials are missing is skipped, not fatal; the
// cascade works with whatever remains.
func buildCandidates(cfg *config.Config, logger *zap.Logger) []cascade.Candidate {
	var out []cascade.Candidate
	for _, cand := range cfg.Cascade.Candidates {
		provider, err := llm.NewOpenAIProvider(cand)
		if err != nil {
			logger.Warn("skipping generation candidate",
				zap.String("model", cand.Model),
				zap.Error(err),
			)
			continue
		}
		out = append(out, cascade.Candidate{
			Provider:          provider,
			SupportsEffort:    cand.SupportsEffort,
			SupportsVerbosity: cand.SupportsVerbosity,
		})
	}
	return out
}

func buildSearchProviders(cfg *config.Config, logger *zap.Logger) []research.Provider {
	var out []research.Provider
	for _, pc := range cfg.Research.Providers {
		provider, err := research.NewProvider(pc, logger)
		if err != nil {
			logger.Warn("skipping search provider",
				zap.String("name", pc.Name),
				zap.Error(err),
			)
			continue
		}
		out = append(out, provider)
	}
	return out
}

// auxiliaryProvider resolves the lightweight model used for sub-query
// planning and brief synthesis, reusing a cascade candidate when the model
// matches. A nil return falls back to the deterministic paths.
func auxiliaryProvider(model string, candidates []cascade.Candidate, logger *zap.Logger) llm.Provider {
	if model == "" {
		return nil
	}
	for _, cand := range candidates {
		if cand.Provider.Model() == model {
			return cand.Provider
		}
	}
	provider, err := llm.NewOpenAIProvider(config.CandidateConfig{Model: model})
	if err != nil {
		logger.Warn("auxiliary model unavailable, using deterministic fallbacks",
			zap.String("model", model),
			zap.Error(err),
		)
		return nil
	}
	return provider
}
