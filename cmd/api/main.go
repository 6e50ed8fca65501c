package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careline/telehealth-platform/internal/api/router"
	"github.com/careline/telehealth-platform/internal/app/bootstrap"
	"github.com/careline/telehealth-platform/internal/availability"
	"github.com/careline/telehealth-platform/internal/booking"
	appconfig "github.com/careline/telehealth-platform/internal/config"
	"github.com/careline/telehealth-platform/internal/directory"
	"github.com/careline/telehealth-platform/internal/notify"
	"github.com/careline/telehealth-platform/internal/observability/metrics"
	"github.com/careline/telehealth-platform/internal/payments"
	"github.com/careline/telehealth-platform/internal/plans"
	"github.com/careline/telehealth-platform/internal/presence"
	"github.com/careline/telehealth-platform/internal/scheduling"
	"github.com/careline/telehealth-platform/internal/sessions"
	"github.com/careline/telehealth-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting careline API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.BuildPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	bookingMetrics := metrics.NewBookingMetrics(promRegistry)
	paymentMetrics := metrics.NewPaymentMetrics(promRegistry)

	// Presence (optional, degrades to directory-order dispatch)
	var (
		registry        *presence.Registry
		presenceHandler *presence.Handler
	)
	if redisClient != nil {
		registry = presence.NewRegistry(redisClient, cfg.PresenceTTL)
		presenceHandler = presence.NewHandler(registry, logger)
	} else {
		logger.Warn("redis unavailable, doctor presence disabled")
	}

	// Doctor directory and availability
	doctorDirectory := directory.NewPostgresDirectory(pool)
	bookingRepo := booking.NewRepository(pool)
	availabilityRepo := availability.NewRepository(pool)
	availabilityService := availability.NewService(availabilityRepo, bookingRepo, doctorDirectory, cfg.SlotDurationMinutes, logger)
	availabilityHandler := availability.NewHandler(availabilityService, logger)

	var resolverPresence scheduling.Presence
	if registry != nil {
		resolverPresence = registry
	}
	resolver := scheduling.NewResolver(doctorDirectory, availabilityService, resolverPresence, logger)

	// Plans
	plansRepo := plans.NewRepository(pool)
	ledger := plans.NewLedger(plansRepo, bookingRepo, cfg.PlanIntervalEnforced, logger)

	// Payments
	stripeClient := payments.NewStripeClient(cfg.StripeSecretKey, cfg.StripeBaseURL, cfg.Currency, logger).
		WithDryRun(cfg.StripeDryRun)
	txnRepo := payments.NewTransactionRepository(pool)
	processedStore := payments.NewProcessedStore(pool)

	// Notifications
	notifyQueue, err := bootstrap.BuildNotifyQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("could not build notification queue", "error", err)
		os.Exit(1)
	}
	contacts := notify.NewPostgresContacts(pool)
	notifier := notify.NewService(notifyQueue, contacts, logger)
	if _, inProcess := notifyQueue.(*notify.MemoryQueue); inProcess {
		sender := bootstrap.BuildEmailSender(ctx, cfg, logger)
		worker := notify.NewWorker(notifyQueue, sender, logger)
		go worker.Run(ctx)
	}

	// Booking lifecycle
	bookingService := booking.NewService(booking.ServiceParams{
		Store:           bookingRepo,
		Resolver:        resolver,
		Ledger:          ledger,
		Intents:         stripeClient,
		Charges:         txnRepo,
		Directory:       doctorDirectory,
		Notifier:        notifier,
		Metrics:         bookingMetrics,
		Logger:          logger,
		DefaultFeeCents: cfg.DefaultConsultationFee,
		SlotMinutes:     cfg.SlotDurationMinutes,
	})
	bookingHandler := booking.NewHandler(bookingService, logger)

	sweeper := booking.NewSweeper(bookingRepo, notifier, bookingMetrics, logger, cfg.PendingBookingTTL, cfg.SweepInterval)
	go sweeper.Run(ctx)

	// Webhook reconciliation
	reconciler := payments.NewReconciler(bookingService, ledger, txnRepo, logger).
		WithNotifier(notifier)
	webhookHandler := payments.NewWebhookHandler(cfg.StripeWebhookSecret, reconciler, processedStore, paymentMetrics, logger)

	plansHandler := plans.NewHandler(ledger, stripeClient, txnRepo, logger)

	// Consultation sessions
	sessionsRepo := sessions.NewRepository(pool)
	sessionsService := sessions.NewService(sessionsRepo, bookingRepo, logger)
	var gatewayPresence sessions.PresenceRecorder
	if registry != nil {
		gatewayPresence = registry
	}
	gateway := sessions.NewGateway(sessionsService, gatewayPresence, logger)
	sessionsHandler := sessions.NewHandler(sessionsService, gateway, logger)

	r := router.New(&router.Config{
		Logger:              logger,
		BookingHandler:      bookingHandler,
		AvailabilityHandler: availabilityHandler,
		PlansHandler:        plansHandler,
		SessionsHandler:     sessionsHandler,
		PresenceHandler:     presenceHandler,
		StripeWebhook:       webhookHandler,
		MetricsHandler:      promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		AuthJWTSecret:       cfg.AuthJWTSecret,
		CORSAllowedOrigins:  splitOrigins(cfg.CORSAllowedOrigins),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
