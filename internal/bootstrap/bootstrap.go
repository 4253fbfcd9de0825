package bootstrap

import (
	"context"
	"fmt"

	"github.com/clearbill/claims-intake/internal/config"
	"github.com/clearbill/claims-intake/internal/core/ports"
	"github.com/clearbill/claims-intake/internal/core/usecase"
	"github.com/clearbill/claims-intake/internal/export"
	"github.com/clearbill/claims-intake/internal/infrastructure/extractor/pdftext"
	"github.com/clearbill/claims-intake/internal/infrastructure/llm/gemini"
	"github.com/clearbill/claims-intake/internal/infrastructure/notify"
	"github.com/clearbill/claims-intake/internal/infrastructure/queue/nats"
	"github.com/clearbill/claims-intake/internal/infrastructure/repository/postgres"
	"github.com/clearbill/claims-intake/internal/infrastructure/resilience"
	"github.com/clearbill/claims-intake/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue ports.MessageQueue
	Repo  ports.ClaimRepository
	Users ports.UserDirectory

	IngestUC  ports.ClaimIngestor
	ProcessUC ports.ClaimProcessor
	QueryUC   ports.ClaimReader
	AdminUC   ports.ClaimAdministrator
	Exporter  *export.Service

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewClaimRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure claims schema: %w", err)
	}
	users := postgres.NewUserRepository(db)
	if err := users.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure users schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	textExtractor := pdftext.New()
	fieldExtractor := gemini.New(cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiModel, executor)
	notifier := notify.NewLogNotifier(nil)

	ingestUC := usecase.NewIngestClaimUseCase(repo, storage, queue)
	processUC := usecase.NewProcessClaimUseCase(
		repo, storage, users, textExtractor, fieldExtractor, notifier, queue,
		cfg.MaxExtractionAttempts, cfg.MaxInFlightExtractions,
	)
	queryUC := usecase.NewClaimQueryUseCase(repo, storage)
	adminUC := usecase.NewClaimAdminUseCase(repo, users, notifier)
	exporter := export.NewService(repo, nil)

	return &App{
		Config: cfg,
		Queue:  queue,
		Repo:   repo,
		Users:  users,

		IngestUC:  ingestUC,
		ProcessUC: processUC,
		QueryUC:   queryUC,
		AdminUC:   adminUC,
		Exporter:  exporter,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
