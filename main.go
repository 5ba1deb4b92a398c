package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/choraleia/helpdesk/pkg/config"
	"github.com/choraleia/helpdesk/pkg/event"
	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/scheduler"
	"github.com/choraleia/helpdesk/pkg/service"
	"github.com/choraleia/helpdesk/pkg/tools"
	_ "github.com/choraleia/helpdesk/pkg/tools/all"
	"github.com/choraleia/helpdesk/pkg/utils"
	"gorm.io/gorm"
)

// App holds the wired services of one process.
type App struct {
	cfg        *config.AppConfig
	db         *gorm.DB
	store      *service.ConversationStore
	models     *service.ModelService
	knowledge  *service.KnowledgeService
	tools      *tools.BuiltinToolsService
	engine     *orchestrator.Engine
	queue      service.WorkQueue
	ingest     *service.IngestService
	dispatcher *service.Dispatcher
	scheduler  *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	logger := utils.GetLogger()
	app := &App{cfg: cfg, models: service.NewModelService()}

	database, err := service.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	app.db = database
	app.store = service.NewConversationStore(database)

	chatModel, err := app.models.CreateChatModel(ctx, models.ChatModelFromConfig(cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	completion := service.NewCompletionService(chatModel, cfg.Orchestration.CallTimeout)

	embed := service.EmbeddingFuncFromConfig(ctx, app.models, cfg.Embedding)
	app.knowledge, err = service.NewKnowledgeService(database, cfg.VectorStore, embed, event.Global())
	if err != nil {
		return nil, err
	}
	var search orchestrator.VectorSearch
	if app.knowledge.Enabled() {
		search = app.knowledge
		if !app.knowledge.Persistent() {
			n, err := app.knowledge.Reindex(ctx)
			if err != nil {
				logger.Warn("Failed to rebuild knowledge vectors", "error", err)
			} else {
				logger.Info("Knowledge vectors rebuilt", "documents", n)
			}
		}
	} else {
		logger.Info("No embedding provider configured, document search disabled")
	}

	app.tools = tools.NewBuiltinToolsService(tools.NewToolContext(search, cfg.Tools))

	engCfg := orchestrator.ConfigFrom(cfg)
	app.engine = orchestrator.New(app.store,
		service.NewPlaybookService(database),
		service.NewAgentService(database),
		completion, search, engCfg,
		orchestrator.WithLogger(logger),
		orchestrator.WithEmitter(event.Global()),
		orchestrator.WithTools(app.tools),
	)

	app.queue, err = service.NewWorkQueue(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	app.ingest = service.NewIngestService(app.store, app.queue, event.Global(), cfg.Orchestration.Cooldown)
	app.dispatcher = service.NewDispatcher(app.engine, app.queue, app.store, cfg.Orchestration)

	app.scheduler = scheduler.New(logger)
	if err := app.scheduler.RegisterInactivitySweep(ctx, cfg.Inactivity.SweepInterval, app.store, app.engine); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) close() {
	a.dispatcher.Stop()
	if err := a.queue.Close(); err != nil {
		utils.GetLogger().Warn("Failed to close work queue", "error", err)
	}
	if err := a.tools.Close(); err != nil {
		utils.GetLogger().Warn("Failed to close tool sources", "error", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func main() {
	if _, err := config.EnsureDefaultConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to write default config:", err)
	}
	cfg, path, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	utils.InitLogger(utils.WithLevel(cfg.Log.Level), utils.WithFormat(cfg.Log.Format))
	logger := utils.GetLogger()
	logger.Info("Configuration loaded", "path", path, "database", cfg.Database.Driver, "model", cfg.Model.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer app.close()

	server := NewServer(app)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	if err := app.dispatcher.Start(ctx); err != nil {
		logger.Error("Failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := app.scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Scheduler stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
}
