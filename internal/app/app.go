package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ferry/internal/bot"
	"github.com/ternarybob/ferry/internal/common"
	"github.com/ternarybob/ferry/internal/events"
	"github.com/ternarybob/ferry/internal/fetcher"
	"github.com/ternarybob/ferry/internal/handlers"
	"github.com/ternarybob/ferry/internal/interfaces"
	"github.com/ternarybob/ferry/internal/maintenance"
	"github.com/ternarybob/ferry/internal/pipeline"
	"github.com/ternarybob/ferry/internal/processor"
	"github.com/ternarybob/ferry/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	StorageManager interfaces.StorageManager

	// Pipeline and its collaborators
	EventHub    *events.Hub
	Fetcher     interfaces.Fetcher
	Processor   interfaces.Processor
	Pipeline    *pipeline.Service
	BotService  *bot.Service
	Maintenance *maintenance.Service

	// HTTP handlers
	FileHandler   *handlers.FileHandler
	AdminHandler  *handlers.AdminHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New creates and wires the application components. Nothing is running
// until Start is called.
func New(ctx context.Context, config *common.Config, logger arbor.ILogger) (*App, error) {
	appCtx, cancel := context.WithCancel(ctx)

	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       appCtx,
		cancelCtx: cancel,
	}

	for _, dir := range []string{config.Fetch.DownloadDir, config.Process.ImagesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	storageManager, err := storage.NewManager(appCtx, logger, &config.Storage)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventHub = events.NewHub(logger)
	a.Fetcher = fetcher.NewService(&config.Fetch, logger)
	a.Processor = processor.NewService(&config.Process, logger)
	a.Pipeline = pipeline.NewService(config, storageManager, a.Fetcher, a.Processor, a.EventHub, logger)

	if config.Bot.Enabled {
		a.BotService = bot.NewService(config, storageManager, a.Pipeline, a.EventHub, logger)
		a.Pipeline.SetNotifier(a.BotService)
	}

	a.Maintenance = maintenance.NewService(config, storageManager, a.Pipeline, logger)

	a.FileHandler = handlers.NewFileHandler(storageManager, logger)
	a.AdminHandler = handlers.NewAdminHandler(storageManager, a.Pipeline, logger)
	a.StatusHandler = handlers.NewStatusHandler(logger, a.Pipeline.ActiveJobs)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventHub, logger)

	logger.Info().
		Str("storage", config.Storage.Type).
		Bool("bot_enabled", config.Bot.Enabled).
		Msg("Application components initialized")

	return a, nil
}

// Start launches the pipeline, bot transport and maintenance scheduler
func (a *App) Start() error {
	if err := a.Pipeline.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	if a.BotService != nil {
		a.BotService.Start(a.ctx)
	}

	if err := a.Maintenance.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	return nil
}

// Shutdown stops components in reverse dependency order: intake first so
// no new work arrives, then the pipeline drain, then storage.
func (a *App) Shutdown() {
	a.Logger.Info().Msg("Shutting down application...")

	if a.BotService != nil {
		a.BotService.Stop()
	}
	a.Maintenance.Stop()
	a.Pipeline.Stop()
	a.EventHub.Close()

	a.cancelCtx()

	if err := a.StorageManager.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close storage")
	}

	a.Logger.Info().Msg("Application stopped")
}
