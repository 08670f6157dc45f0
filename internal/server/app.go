// Package server initializes and runs the relay server: storage selection,
// migrations, service wiring, the HTTP endpoint, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"edgerelay/internal/logging"
	"edgerelay/internal/server/config"
	"edgerelay/internal/server/httpapi"
	"edgerelay/internal/server/repositories/memory"
	"edgerelay/internal/server/repositories/repomanager"
	"edgerelay/internal/server/services"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *services.RegistryService
	mailbox  *services.MailboxService
	fanout   *services.FanoutEngine
	operator *services.OperatorService
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var db *sql.DB
	var rm repomanager.RepositoryManager

	// The "memory" DSN selects the in-process backend for development.
	if cfg.DatabaseDSN == "memory" {
		rm = memory.NewManager()
	} else {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}

		rm = repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}

	return &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: services.NewRegistryService(db, rm, cfg, logger),
		mailbox:  services.NewMailboxService(db, rm, cfg, logger),
		fanout:   services.NewFanoutEngine(db, rm, cfg, logger),
		operator: services.NewOperatorService(db, rm, cfg, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := httpapi.NewServer(app.config, app.logger, app.registry, app.mailbox, app.fanout, app.operator)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error(ctx, "db close error", "error", err.Error())
		}
	}
}
