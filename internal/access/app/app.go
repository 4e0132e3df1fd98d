// Package app wires configuration, storage, identity verification and the
// HTTP API into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/domain"
	httpapi "github.com/aussiebroadwan/gatekeep/internal/access/http"
	"github.com/aussiebroadwan/gatekeep/internal/access/identity"
	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/internal/access/store"
	"github.com/aussiebroadwan/gatekeep/internal/access/store/drivers/postgres"
	"github.com/aussiebroadwan/gatekeep/internal/access/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application encapsulates the access service with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db       store.Store
	catalog  *domain.Catalog
	identity *identity.JWTProvider

	// Services
	userDirectory       *service.UserDirectory
	usageTracker        *service.UsageTracker
	auditLog            *service.AuditLog
	adminService        *service.AdminService
	purchaseService     *service.PurchaseService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gatekeep",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		catalog: domain.NewCatalog(domain.CatalogOptions{
			FreeDailyArrangements: cfg.FreeDailyArrangements,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	id, err := InitIdentity(app.cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	app.identity = id

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
// SIGHUP reloads the identity provider's keys.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("gatekeep starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"database", app.cfg.DatabaseDriver,
		"identity", app.cfg.IdentityMode,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case err := <-serverErrors:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-reload:
			if err := app.identity.Reload(); err != nil {
				app.logger.Error("identity key reload failed, keeping previous keys", "error", err)
			} else {
				app.logger.Info("identity keys reloaded", "keys", len(app.identity.JWKS().Keys))
			}
		case sig := <-shutdown:
			app.logger.Info("shutdown signal received", "signal", sig)

			if err := app.Shutdown(); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		}
	}
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gatekeep...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("gatekeep stopped")
	return nil
}

// Close releases the store without starting the server.
func (app *Application) Close() error {
	return app.db.Close()
}

// Handler returns the HTTP handler with all routes applied.
func (app *Application) Handler() http.Handler {
	return app.router
}

// VerifyAudit walks the audit hash chain.
func (app *Application) VerifyAudit(ctx context.Context) (service.ChainReport, error) {
	return app.auditLog.VerifyChain(ctx)
}

// initDatabase opens the configured store and applies migrations
func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)

	switch app.cfg.DatabaseDriver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL)
	default:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		db, err = sqlite.NewStore(dsn)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.auditLog = service.NewAuditLog(app.db, app.logger)
	app.auditLog.StoreTimeout = app.cfg.StoreTimeout

	app.userDirectory = service.NewUserDirectory(app.db, app.catalog, app.logger)
	app.userDirectory.StoreTimeout = app.cfg.StoreTimeout

	app.usageTracker = service.NewUsageTracker(app.db, app.catalog, app.logger)
	app.usageTracker.ResetOffset = app.cfg.ResetOffset
	app.usageTracker.StoreTimeout = app.cfg.StoreTimeout

	app.adminService = service.NewAdminService(
		app.db,
		app.catalog,
		app.auditLog,
		service.NewActionLimiter(app.cfg.AdminActionsPerMinute),
		app.logger,
	)
	app.adminService.StoreTimeout = app.cfg.StoreTimeout
	if app.cfg.SuperAdmin != "" {
		app.adminService.Protected = []string{app.cfg.SuperAdmin}
	}

	var gateway service.PaymentGateway = service.DisabledGateway{}
	if app.cfg.PaymentsMode == "mock" {
		gateway = service.NewMockGateway(app.cfg.PaymentsFailureRate)
		app.logger.Warn("mock payment gateway enabled", "failure_rate", app.cfg.PaymentsFailureRate)
	}
	app.purchaseService = service.NewPurchaseService(gateway, app.auditLog, app.logger)

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.auditLog,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(app.identity, app.db, BuildVersion, app.logger)

	// Wire services to router
	router.Sessions = &httpapi.SessionFactory{
		Catalog: app.catalog,
		Users:   app.userDirectory,
		Auditor: app.auditLog,
	}
	router.UsageTracker = app.usageTracker
	router.AuditLog = app.auditLog
	router.AdminService = app.adminService
	router.PurchaseService = app.purchaseService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
