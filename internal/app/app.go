// Package app builds the docflow services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/docflow/internal/assistant"
	"github.com/joseph-ayodele/docflow/internal/async"
	"github.com/joseph-ayodele/docflow/internal/classify"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/embeddings"
	"github.com/joseph-ayodele/docflow/internal/export"
	"github.com/joseph-ayodele/docflow/internal/ingest"
	"github.com/joseph-ayodele/docflow/internal/llm/openrouter"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/pipeline"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
	repo "github.com/joseph-ayodele/docflow/internal/repository"
	"github.com/joseph-ayodele/docflow/internal/search"
	"github.com/joseph-ayodele/docflow/internal/status"
	"github.com/joseph-ayodele/docflow/internal/storage"
	"github.com/joseph-ayodele/docflow/internal/trigger"
)

const watchDebounce = 500 * time.Millisecond

type App struct {
	Config *common.Config
	Logger *slog.Logger

	DB          *repo.Client
	Types       repo.DocumentTypeRepository
	Runs        repo.RunRepository
	Documents   repo.DocumentRepository
	Triggers    repo.TriggerRepository
	Queries     repo.QueryRepository
	Checkpoints repo.CheckpointRepository

	Blobs     storage.Store
	Index     search.Index
	Generator *openrouter.Client
	OCR       *ocr.Extractor

	Processor    *pipeline.Processor
	Status       *status.Service
	Orchestrator *async.Orchestrator
	Ingest       *ingest.Service
	Assistant    *assistant.Assistant
	Search       *search.Service
	Export       *export.Service

	closers []func()
}

// New opens the database, storage and index backends and wires the services on top.
// Close releases everything New opened.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.wire()
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	db, err := OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, func() { repo.Close(db, logger) })

	a.Types = repo.NewDocumentTypeRepository(db, logger)
	a.Runs = repo.NewRunRepository(db, logger)
	a.Documents = repo.NewDocumentRepository(db, logger)
	a.Triggers = repo.NewTriggerRepository(db, logger)
	a.Queries = repo.NewQueryRepository(db, logger)
	a.Checkpoints = repo.NewCheckpointRepository(db, logger)

	blobs, err := OpenStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	a.Blobs = blobs

	index, closeIndex, err := OpenIndex(ctx, cfg.Search, db, logger)
	if err != nil {
		return err
	}
	a.Index = index
	if closeIndex != nil {
		a.closers = append(a.closers, closeIndex)
	}
	return nil
}

func (a *App) wire() {
	cfg, logger := a.Config, a.Logger

	a.Generator = openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	if !a.Generator.Ready() {
		logger.Warn("app.llm.not_configured", "hint", "set OPENROUTER_API_KEY; extraction falls back to line matching")
	}
	a.OCR = NewRecognizer(cfg.OCR, cfg.Worker.OCRReentrant, logger)

	a.Processor = pipeline.NewProcessor(pipeline.Options{
		Recognizer:  a.OCR,
		Classifier:  classify.NewClassifier(a.Generator, logger),
		Generator:   a.Generator,
		Reconciler:  reconcile.NewEngine(logger),
		Types:       a.Types,
		Documents:   a.Documents,
		Runs:        a.Runs,
		Checkpoints: a.Checkpoints,
		Blobs:       a.Blobs,
		Index:       a.Index,
		Logger:      logger,
	})
	a.Status = status.NewService(a.Documents, a.Runs, logger)
	a.Orchestrator = async.NewOrchestrator(a.Processor, a.Status, logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithMaxAttempts(cfg.Worker.MaxAttempts),
		async.WithBackoff(cfg.Worker.BackoffBase),
		async.WithTimeouts(cfg.Worker.HardTimeout, cfg.Worker.SoftTimeout),
	)
	a.Ingest = ingest.NewService(a.Runs, a.Documents, a.Blobs, a.Orchestrator, logger)
	a.Assistant = assistant.New(assistant.Options{
		Generator: a.Generator,
		Documents: a.Documents,
		Runs:      a.Runs,
		Types:     a.Types,
		Queries:   a.Queries,
		Index:     a.Index,
		Logger:    logger,
	})
	a.Search = search.NewService(a.Index, a.Assistant, cfg.Search.Candidates, logger)
	a.Export = export.NewService(a.Documents, a.Runs, a.Types, logger)
}

// Scanner builds the trigger scanner. With TRIGGER_WATCH set it also starts a folder
// watcher that lives until ctx is done.
func (a *App) Scanner(ctx context.Context) *trigger.Scanner {
	cfg := a.Config.Trigger
	opts := []trigger.Option{
		trigger.WithInterval(cfg.Interval),
		trigger.WithConcurrency(cfg.Concurrency),
	}
	if cfg.Watch {
		w, err := trigger.NewWatcher(watchDebounce, a.Logger)
		if err != nil {
			a.Logger.Warn("app.trigger.watch_disabled", "error", err)
		} else {
			go w.Run(ctx)
			opts = append(opts, trigger.WithWatcher(w))
		}
	}
	handler := trigger.NewHandler(a.Processor, a.Ingest, a.Runs, a.Orchestrator, a.Logger)
	return trigger.NewScanner(a.Triggers, handler, a.Logger, opts...)
}

// Close drains the orchestrator and closes the backends in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	if a.Orchestrator != nil {
		a.Orchestrator.Shutdown(ctx)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// OpenDatabase connects to the configured driver, pings it and migrates the schema when
// DB_AUTO_MIGRATE is set.
func OpenDatabase(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repo.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db  *repo.Client
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = repo.OpenSQLite(ctx, cfg.DSN, logger)
	default:
		db, err = repo.Open(ctx, repo.Config{
			DSN:              cfg.DSN,
			MaxConns:         cfg.MaxConns,
			MinConns:         cfg.MinConns,
			MaxConnLifetime:  cfg.MaxConnLifetime,
			MaxConnIdleTime:  cfg.MaxConnIdleTime,
			DialTimeout:      cfg.DialTimeout,
			StatementTimeout: cfg.StatementTimeout,
		}, logger)
	}
	if err != nil {
		return nil, common.NewAppError(common.CodeStorage, "open database", errors.Join(common.ErrDatabase, err))
	}
	if err := repo.HealthCheck(ctx, db, 5*time.Second, logger); err != nil {
		repo.Close(db, logger)
		return nil, common.NewAppError(common.CodeStorage, "database ping", errors.Join(common.ErrDatabase, err))
	}
	if cfg.AutoMigrate {
		if err := repo.Migrate(ctx, db, logger); err != nil {
			repo.Close(db, logger)
			return nil, err
		}
	}
	return db, nil
}

func OpenStorage(cfg common.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case "dir":
		logger.Info("app.storage.dir", "root", cfg.Dir)
		return storage.NewDirStore(cfg.Dir)
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			UseSSL:          cfg.UseSSL,
		}, logger)
	}
	return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown storage backend %q", cfg.Backend), common.ErrInvalidInput)
}

// OpenIndex returns the configured vector index and, for bleve, its closer. Bleve runs
// keyword-only when no embeddings provider is configured.
func OpenIndex(ctx context.Context, cfg common.SearchConfig, db *repo.Client, logger *slog.Logger) (search.Index, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	var embedder embeddings.Embedder
	if cfg.EmbeddingsProvider != "" && cfg.EmbeddingsProvider != "none" {
		e, err := embeddings.NewEmbedder(cfg.EmbeddingsProvider, cfg.EmbeddingsURL, cfg.EmbeddingsModel, 0)
		if err != nil {
			return nil, nil, common.NewAppError(common.CodeConfig, err.Error(), common.ErrInvalidInput)
		}
		embedder = e
	}

	switch cfg.Backend {
	case "bleve":
		idx, err := search.OpenBleve(cfg.BlevePath, embedder, logger)
		if err != nil {
			return nil, nil, err
		}
		return idx, func() {
			if err := idx.Close(); err != nil {
				logger.Error("app.index.close_failed", "error", err)
			}
		}, nil
	case "pgvector":
		if embedder == nil {
			return nil, nil, common.NewAppError(common.CodeConfig, "pgvector search needs EMBEDDINGS_PROVIDER", common.ErrInvalidInput)
		}
		idx := search.NewPGVectorIndex(db.DB(), embedder, cfg.Dimensions, logger)
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return idx, nil, nil
	}
	return nil, nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown search backend %q", cfg.Backend), common.ErrInvalidInput)
}

// NewRecognizer builds the OCR extractor over the DeepSeek command. Engines that are not
// reentrant are serialised process-wide.
func NewRecognizer(cfg common.OCRConfig, reentrant bool, logger *slog.Logger) *ocr.Extractor {
	runner := ocr.ExecRunner{Logger: logger}
	var engine ocr.Engine = ocr.NewDeepSeekEngine(ocr.Config{
		Command:       cfg.Command,
		Args:          cfg.Args,
		OutputDir:     cfg.OutputDir,
		UseGPU:        cfg.UseGPU,
		CleanMarkdown: cfg.CleanMarkdown,
	}, runner, logger)
	if !reentrant {
		engine = ocr.NewSerialized(engine)
	}
	return ocr.NewExtractor(engine, runner, ocr.ExtractorConfig{
		Pdftoppm:       cfg.Pdftoppm,
		Soffice:        cfg.Soffice,
		DPI:            cfg.DPI,
		LogPreviewSize: cfg.LogPreviewSize,
	}, logger)
}
