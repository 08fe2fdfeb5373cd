package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/revelo/internal/common"
	"github.com/ternarybob/revelo/internal/handlers"
	"github.com/ternarybob/revelo/internal/interfaces"
	"github.com/ternarybob/revelo/internal/services/events"
	"github.com/ternarybob/revelo/internal/services/render"
	"github.com/ternarybob/revelo/internal/services/scheduler"
	"github.com/ternarybob/revelo/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Render pipeline
	RenderService *render.Service

	// Background maintenance
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler     *handlers.APIHandler
	RenderHandler  *handlers.RenderHandler
	SessionHandler *handlers.SessionHandler
	StatusHandler  *handlers.StatusHandler
	RecordsHandler *handlers.RecordsHandler
	WSHandler      *handlers.WebSocketHandler

	wsWriter *handlers.WebSocketWriter

	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config:       cfg,
		Logger:       logger,
		shutdownChan: make(chan struct{}),
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Int("pool_size", cfg.Pool.Size).
		Int("max_concurrent", cfg.Admission.MaxConcurrent).
		Int("max_sessions", cfg.Sessions.MaxSessions).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes business services in dependency order
func (a *App) initServices() error {
	// Event bus comes first: every other service publishes into it
	a.EventService = events.NewService(a.Logger)

	// Browser engine and the render pipeline built on top of it
	engine := render.NewChromedpEngine(&a.Config.Engine, a.Logger)
	a.RenderService = render.NewService(
		engine,
		a.StorageManager.ClearanceStorage(),
		a.StorageManager.RenderStorage(),
		a.EventService,
		a.Config,
		a.Logger,
	)
	a.Logger.Debug().Msg("Render service initialized")

	// Scheduler with the storage maintenance job
	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := scheduler.RegisterMaintenance(a.SchedulerService, a.StorageManager, &a.Config.Maintenance, a.Logger); err != nil {
		return fmt.Errorf("failed to register maintenance job: %w", err)
	}
	a.SchedulerService.Start()

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.RenderHandler = handlers.NewRenderHandler(a.RenderService)
	a.SessionHandler = handlers.NewSessionHandler(a.RenderService)
	a.StatusHandler = handlers.NewStatusHandler(a.RenderService)
	a.RecordsHandler = handlers.NewRecordsHandler(a.StorageManager)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.RenderService, &a.Config.WebSocket, a.Logger)

	// Log fan-out to websocket clients
	wsWriter, err := handlers.NewWebSocketWriter(a.WSHandler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, &a.Config.WebSocket)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to initialize websocket log writer")
	} else {
		a.wsWriter = wsWriter
	}

	a.Logger.Debug().
		Int("allowed_events", len(a.Config.WebSocket.AllowedEvents)).
		Int("throttle_intervals", len(a.Config.WebSocket.ThrottleIntervals)).
		Msg("Handlers initialized")

	return nil
}

// Start warms the render pipeline. The HTTP server may accept requests
// before this returns; they are refused until the pool is warm.
func (a *App) Start(ctx context.Context) error {
	return a.RenderService.Start(ctx)
}

// TriggerShutdown requests a graceful process shutdown. Safe to call
// more than once.
func (a *App) TriggerShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownChan)
	})
}

// ShutdownRequested returns a channel closed when shutdown is triggered
// via the API.
func (a *App) ShutdownRequested() <-chan struct{} {
	return a.shutdownChan
}

// Close closes all application resources in dependency order: stop
// serving renders first, then background jobs, then the event bus, then
// storage.
func (a *App) Close(ctx context.Context) error {
	if a.RenderService != nil {
		if err := a.RenderService.Close(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close render service")
		}
	}

	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}

	if a.wsWriter != nil {
		if err := a.wsWriter.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close websocket log writer")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
