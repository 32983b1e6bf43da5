package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-query/pkg/audit"
	"github.com/ekaya-inc/ekaya-query/pkg/auth"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/database"
	"github.com/ekaya-inc/ekaya-query/pkg/executor"
	"github.com/ekaya-inc/ekaya-query/pkg/guardrail"
	"github.com/ekaya-inc/ekaya-query/pkg/intent"
	"github.com/ekaya-inc/ekaya-query/pkg/llm"
	"github.com/ekaya-inc/ekaya-query/pkg/logging"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/ranker"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
	"github.com/ekaya-inc/ekaya-query/pkg/sql"
	"github.com/ekaya-inc/ekaya-query/pkg/sqlgen"
)

// app holds the components shared by the commands. Fields are filled by the
// connect and build steps each command needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *database.DB
	redis     *redis.Client
	adapter   *postgres.Adapter
	snapshots *services.SnapshotStore
	refresher *services.SchemaRefresher
	llm       llm.LLMClient
	indexes   *ranker.IndexStore
	pipeline  services.PipelineService
	jwks      *auth.JWKSClient
}

// newApp loads configuration and builds the logger.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return &app{
		cfg:       cfg,
		logger:    logger,
		snapshots: services.NewSnapshotStore(),
		indexes:   ranker.NewIndexStore(),
	}, nil
}

// connect opens the queried database and, when configured, Redis.
func (a *app) connect(ctx context.Context) error {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            a.cfg.Database.ConnectionString(),
		MaxConnections: a.cfg.Database.MaxConnections,
		MinConnections: a.cfg.Database.MinConnections,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	a.adapter = postgres.NewAdapter(db.Pool, a.cfg.Database.Database, a.logger)
	if err := a.adapter.TestConnection(ctx); err != nil {
		return fmt.Errorf("test database connection: %w", err)
	}
	a.logger.Info("Connected to database",
		zap.String("host", a.cfg.Database.Host),
		zap.Int("port", a.cfg.Database.Port),
		zap.String("database", a.cfg.Database.Database))

	rdb, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		// The cache is an optimization; extraction still works without it.
		a.logger.Warn("Redis unavailable, schema snapshots will not be cached", zap.Error(err))
		return nil
	}
	a.redis = rdb
	return nil
}

// loadSnapshot publishes the first snapshot: from the configured file, or
// through the refresher (cache first, then the catalog).
func (a *app) loadSnapshot(ctx context.Context) error {
	if path := a.cfg.Schema.SnapshotFile; path != "" {
		snapshot, err := models.LoadSnapshotFile(path)
		if err != nil {
			return err
		}
		a.snapshots.Swap(snapshot)
		a.logger.Info("Loaded schema snapshot from file",
			zap.String("path", path),
			zap.String("version", snapshot.Version),
			zap.Int("tables", len(snapshot.Tables)))
		return nil
	}

	if a.adapter == nil {
		return errors.New("no database connection to extract the schema from")
	}
	var cache services.SnapshotCache
	if a.redis != nil {
		cache = services.NewRedisSnapshotCache(a.redis, a.cfg.Redis.SnapshotTTL)
	}
	a.refresher = services.NewSchemaRefresher(
		a.adapter.Extractor(a.cfg.Schema.Schemas), cache, a.snapshots, a.cfg.Schema.RefreshInterval, a.logger)
	return a.refresher.Warm(ctx)
}

// buildLLM creates the configured LLM client and loads the embedding index
// when the embedding strategy is selected.
func (a *app) buildLLM() error {
	client, err := llm.NewClientFromConfig(a.cfg.LLM, a.logger)
	if err != nil {
		return err
	}
	a.llm = client

	if a.cfg.Ranker.Strategy == ranker.StrategyEmbedding && a.cfg.Ranker.IndexPath != "" {
		idx, err := a.indexes.LoadFile(a.cfg.Ranker.IndexPath)
		if err != nil {
			a.logger.Warn("Embedding index not loaded, ranking lexically", zap.Error(err))
		} else {
			a.logger.Info("Loaded embedding index",
				zap.String("snapshot_version", idx.SnapshotVersion),
				zap.Int("tables", len(idx.Vectors)))
		}
	}
	return nil
}

// buildPipeline wires the stages. connect, loadSnapshot and buildLLM must
// have run.
func (a *app) buildPipeline() error {
	cfg := a.cfg

	scorer, err := ranker.NewScorer(cfg.Ranker, a.llm, cfg.LLM.EmbeddingModel, a.indexes, a.logger)
	if err != nil {
		return err
	}
	auditor := audit.NewAuditor(a.logger)

	a.pipeline = services.NewPipelineService(services.PipelineDeps{
		Snapshots:        a.snapshots,
		Ranker:           ranker.New(scorer, cfg.Ranker, a.logger),
		Resolver:         intent.NewResolver(a.llm, cfg.Intent, cfg.LLM.Temperature, cfg.LLM.Timeout, a.logger),
		Generator:        sqlgen.NewGenerator(cfg.Generator, a.logger),
		Validator:        sql.NewValidator(cfg.Validator, a.logger),
		Guardrail:        guardrail.NewEngine(a.adapter.Planner(), cfg.Guardrail, auditor, a.logger),
		Executor:         executor.NewExecutor(a.adapter.Runner(), cfg.Executor, a.logger),
		Synthesizer:      services.NewSynthesizer(a.llm, cfg.LLM.Temperature, a.logger),
		Auditor:          auditor,
		RankBudget:       cfg.Ranker.BudgetChars,
		MaxQuestionChars: cfg.MaxQuestionChars,
		RequestTimeout:   cfg.RequestTimeout,
	}, a.logger)
	return nil
}

// Close releases connections and flushes the logger.
func (a *app) Close() {
	if a.adapter != nil {
		_ = a.adapter.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.jwks != nil {
		a.jwks.Close()
	}
	_ = a.logger.Sync()
}
