// Package app wires the engine together: database, repositories, services,
// collaborators, and the background loops.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/donorflow/donorflow/config"
	"github.com/donorflow/donorflow/internal/database"
	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/internal/repository"
	"github.com/donorflow/donorflow/internal/service"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/donorflow/donorflow/pkg/mailer"
	"github.com/donorflow/donorflow/pkg/notifier"
)

// App holds the engine's wired components
type App struct {
	config *config.Config
	logger logger.Logger
	db     *sql.DB

	automationRepo *repository.AutomationRepository
	executionRepo  *repository.ExecutionRepository
	admissionRepo  *repository.AdmissionRepository
	recipientRepo  *repository.RecipientRepository

	eventBus  domain.EventBus
	registry  *service.Registry
	runner    *service.Runner
	triggers  *service.TriggerEvaluator
	scheduler *service.DelayScheduler
}

// AppOption configures the App
type AppOption func(*App)

// WithMockDB injects a database connection. Intended for tests.
func WithMockDB(db *sql.DB) AppOption {
	return func(a *App) { a.db = db }
}

// WithLogger injects a logger
func WithLogger(log logger.Logger) AppOption {
	return func(a *App) { a.logger = log }
}

// NewApp creates a new engine application
func NewApp(cfg *config.Config, opts ...AppOption) *App {
	a := &App{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.NewLoggerWithLevel(cfg.LogLevel)
	}
	return a
}

// Initialize wires every component. It is idempotent-safe to call once.
func (a *App) Initialize() error {
	if err := a.initDB(); err != nil {
		return err
	}
	a.initRepositories()
	a.initServices()
	return nil
}

func (a *App) initDB() error {
	if a.db == nil {
		db, err := database.Connect(&a.config.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
	}

	if err := database.InitializeDatabase(a.db); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

func (a *App) initRepositories() {
	a.automationRepo = repository.NewAutomationRepository(a.db)
	a.executionRepo = repository.NewExecutionRepository(a.db,
		repository.WithStaleClaimAfter(a.config.Engine.StaleClaimAfter))
	a.admissionRepo = repository.NewAdmissionRepository(a.db)
	a.recipientRepo = repository.NewRecipientRepository(a.db)
}

func (a *App) initServices() {
	a.eventBus = domain.NewInMemoryEventBus()

	a.registry = service.NewRegistry(
		a.automationRepo,
		a.executionRepo,
		a.logger,
		a.config.Engine.RefreshInterval,
	)

	var sender domain.MessageSender
	if a.config.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(&mailer.Config{
			SMTPHost:     a.config.SMTP.Host,
			SMTPPort:     a.config.SMTP.Port,
			SMTPUsername: a.config.SMTP.Username,
			SMTPPassword: a.config.SMTP.Password,
			FromEmail:    a.config.SMTP.FromEmail,
			FromName:     a.config.SMTP.FromName,
		})
	} else {
		a.logger.Warn("No SMTP host configured, outbound messages go to the log")
		sender = mailer.NewConsoleSender(a.logger)
	}

	notify := notifier.NewWebhookNotifier(
		a.config.Webhook.Endpoint,
		a.config.Webhook.Secret,
		a.logger,
	)

	dispatcher := service.NewDispatcher(
		sender,
		a.recipientRepo,
		notify,
		a.logger,
		service.WithStepTimeout(a.config.Engine.StepTimeout),
		service.WithRetryPolicy(a.config.Engine.MaxRetries, 2*time.Second),
	)

	evaluator := service.NewConditionEvaluator()

	a.runner = service.NewRunner(
		a.registry,
		a.executionRepo,
		a.admissionRepo,
		a.recipientRepo,
		dispatcher,
		evaluator,
		a.logger,
		service.WithMaxAttempts(a.config.Engine.MaxAttempts),
	)

	a.triggers = service.NewTriggerEvaluator(
		a.registry,
		a.runner,
		evaluator,
		a.recipientRepo,
		a.logger,
	)
	a.triggers.SubscribeAll(a.eventBus)

	a.scheduler = service.NewDelayScheduler(
		a.executionRepo,
		a.runner,
		a.triggers,
		a.logger,
		service.SchedulerConfig{
			Interval:  a.config.Engine.PollInterval,
			BatchSize: a.config.Engine.BatchSize,
			Workers:   a.config.Engine.Workers,
		},
	)
}

// Start launches the background loops
func (a *App) Start(ctx context.Context) error {
	a.logger.WithFields(map[string]interface{}{
		"version":     a.config.Version,
		"environment": a.config.Environment,
	}).Info("Starting donorflow engine")

	a.registry.Start(ctx)
	a.scheduler.Start(ctx)
	return nil
}

// Shutdown stops the background loops and closes the database
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down donorflow engine")

	a.scheduler.Stop()
	a.registry.Stop()

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// EventBus exposes the bus upstream event producers publish into
func (a *App) EventBus() domain.EventBus {
	return a.eventBus
}

// Registry exposes the definition registry
func (a *App) Registry() *service.Registry {
	return a.registry
}

// GetLogger returns the application logger
func (a *App) GetLogger() logger.Logger {
	return a.logger
}

// GetConfig returns the application configuration
func (a *App) GetConfig() *config.Config {
	return a.config
}
