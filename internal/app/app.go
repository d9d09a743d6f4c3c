// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tildaslashalef/odoosync/internal/config"
	"github.com/tildaslashalef/odoosync/internal/conflict"
	"github.com/tildaslashalef/odoosync/internal/database"
	"github.com/tildaslashalef/odoosync/internal/discovery"
	"github.com/tildaslashalef/odoosync/internal/fields"
	"github.com/tildaslashalef/odoosync/internal/loggy"
	"github.com/tildaslashalef/odoosync/internal/odoo"
	"github.com/tildaslashalef/odoosync/internal/queue"
	"github.com/tildaslashalef/odoosync/internal/store"
	"github.com/tildaslashalef/odoosync/internal/sync"
)

// App represents the application instance with its dependencies
type App struct {
	Config       *config.Config
	Odoo         *odoo.Client
	Store        *store.Store
	Discovery    *discovery.Service
	ModelsRepo   *discovery.Repository
	Fields       *fields.Resolver
	Queue        *queue.Service
	Conflicts    *conflict.Resolver
	ConflictRepo conflict.Repository
	Sync         *sync.Service
	SyncLogs     sync.Repository
	Settings     *sync.SettingsStore
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	_, err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices wires all application services together
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	client := odoo.NewClient(odoo.Config{
		URL:               cfg.Odoo.URL,
		Database:          cfg.Odoo.Database,
		Username:          cfg.Odoo.Username,
		APIKey:            cfg.Odoo.APIKey,
		Timeout:           cfg.Odoo.Timeout,
		MaxRetries:        cfg.Odoo.MaxRetries,
		RequestsPerMinute: cfg.Odoo.RequestsPerMinute,
		BurstLimit:        cfg.Odoo.BurstLimit,
	}, logger)

	recordStore := store.New(db, logger)

	settingsRepo := config.NewSQLSettingsRepository(db, logger)
	settingsStore := sync.NewSettingsStore(settingsRepo, cfg.Sync, logger)
	syncSettings, err := settingsStore.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync settings: %w", err)
	}

	modelsRepo := discovery.NewRepository(db, logger)
	discoverySvc := discovery.NewService(client, modelsRepo, discovery.Config{
		TTL:           cfg.Sync.DiscoveryTTL,
		BreakerMax:    cfg.Sync.BreakerMax,
		BreakerWindow: cfg.Sync.BreakerWindow,
	}, logger)

	fieldResolver := fields.NewResolver(client, logger)

	queueRepo := queue.NewSQLRepository(db, logger)
	queueSvc := queue.NewService(client, queueRepo, cfg.Sync.MaxReplayRetries, logger)

	conflictRepo := conflict.NewSQLRepository(db, logger)
	conflictResolver := conflict.NewResolver(
		&queueMutationSource{queue: queueSvc},
		conflictRepo,
		syncSettings.Policy,
		logger,
	)

	syncRepo := sync.NewSQLRepository(db, logger)
	syncSvc := sync.NewService(
		client,
		recordStore,
		fieldResolver,
		conflictResolver,
		discoverySvc,
		sync.NewDomainBuilder(recordStore, syncSettings),
		syncRepo,
		cfg.Sync,
		logger,
	)

	return &App{
		Config:       cfg,
		Odoo:         client,
		Store:        recordStore,
		Discovery:    discoverySvc,
		ModelsRepo:   modelsRepo,
		Fields:       fieldResolver,
		Queue:        queueSvc,
		Conflicts:    conflictResolver,
		ConflictRepo: conflictRepo,
		Sync:         syncSvc,
		SyncLogs:     syncRepo,
		Settings:     settingsStore,
	}, nil
}

// queueMutationSource adapts the queue service to the conflict resolver's
// view of pending local edits.
type queueMutationSource struct {
	queue *queue.Service
}

func (s *queueMutationSource) PendingForRecord(ctx context.Context, model string, recordID int64) ([]conflict.LocalMutation, error) {
	pending, err := s.queue.PendingForRecord(ctx, model, recordID)
	if err != nil {
		return nil, err
	}
	mutations := make([]conflict.LocalMutation, 0, len(pending))
	for _, m := range pending {
		mutations = append(mutations, conflict.LocalMutation{
			Payload:   m.Payload,
			CreatedAt: m.CreatedAt,
		})
	}
	return mutations, nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
