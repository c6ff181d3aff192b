package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/authz"
	"github.com/stanstork/autorun-api/internal/automation"
	"github.com/stanstork/autorun-api/internal/config"
	"github.com/stanstork/autorun-api/internal/handlers"
	"github.com/stanstork/autorun-api/internal/middleware"
	"github.com/stanstork/autorun-api/internal/migration"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/notification"
	"github.com/stanstork/autorun-api/internal/realtime"
	"github.com/stanstork/autorun-api/internal/repository"
	"github.com/stanstork/autorun-api/internal/routes"
	"github.com/stanstork/autorun-api/internal/webhook"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	logger zerolog.Logger
	hub    *realtime.Hub
	feed   *realtime.ChangeFeed
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	log.SetFlags(0)
	log.SetOutput(logger)

	goose.SetLogger(migration.NewGooseAdapter(logger))

	// Load configuration.
	cfg := config.Load()
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	listener := realtime.NewListener(cfg.DatabaseURL, cfg.Realtime.ListenerMinReconnect, cfg.Realtime.ListenerMaxReconnect, logger)

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
		hub:    realtime.NewHub(),
		feed:   realtime.NewChangeFeed(listener, models.ChangeChannel, logger),
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := app.feed.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("change feed stopped")
		}
	}()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization", cfg.Webhook.SignatureHeader}),
		h.AllowCredentials(),
	)(loggedRouter)
	recovered := h.RecoveryHandler(h.RecoveryLogger(recoveryLogger{logger}), h.PrintRecoveryStack(true))(corsHandler)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(ctx, stop, recovered, logger)

	<-feedDone
	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	cfg := app.config

	// Repositories
	automationRepo := repository.NewAutomationRepository(app.db)
	runRepo := repository.NewRunRepository(app.db)
	notificationRepo := repository.NewNotificationRepository(app.db)

	// Notifications fan out to the live stream and, when configured, email.
	notifiers := []notification.Notifier{notification.NewStreamNotifier(app.hub, notificationRepo)}
	if cfg.Alerts.SMTPHost != "" {
		alerts, err := notification.NewAlertNotifier(cfg.Alerts, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure alert notifier")
		}
		notifiers = append(notifiers, alerts)
	}
	notificationService := notification.NewService(notificationRepo, logger, notifiers...)

	// Run lifecycle
	policy := webhook.Policy{Header: cfg.Webhook.SignatureHeader, RequireSignature: cfg.Webhook.RequireSignature}
	controller := automation.NewController(automationRepo, runRepo, logger,
		automation.WithSignaturePolicy(policy),
		automation.WithCompletionGuard(cfg.Webhook.GuardDoubleCompletion),
		automation.WithNotifier(notification.NewDispatcher(notificationService, app.hub, logger)),
	)
	automationService := automation.NewService(automationRepo, webhook.NewGenerator(cfg.Webhook.BaseURL), logger)
	history := automation.NewHistory(automationRepo, runRepo)

	// Realtime
	streamServer := realtime.NewStreamServer(app.hub, notificationRepo, cfg.Realtime.KeepaliveInterval, logger)
	feedServer := realtime.NewFeedServer(app.feed, cfg.AllowedOrigins, logger)

	auth := authz.NewAuthenticator(cfg.JWTSecret)

	return routes.NewRouter(routes.Handlers{
		Health:        handlers.HealthCheck(app.db),
		Webhook:       handlers.NewWebhookHandler(controller, automationService, cfg.Webhook.BaseURL, cfg.Webhook.MaxBodyBytes, logger),
		Tenants:       handlers.NewTenantHandler(repository.NewTenantRepository(app.db), logger),
		Automations:   handlers.NewAutomationHandler(automationService, history, logger),
		Notifications: handlers.NewNotificationHandler(notificationService, logger),
		Realtime:      handlers.NewRealtimeHandler(streamServer, feedServer),
	}, auth.Middleware)
}

// startServer launches the HTTP server and handles graceful shutdown.
// Request contexts derive from base, so cancelling it ends open event
// streams and websocket relays.
func (app *application) startServer(base context.Context, cancelBase context.CancelFunc, handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:              ":" + app.config.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	cancelBase()

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		server.Close()
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg("panic recovered: " + fmt.Sprint(v...))
}
