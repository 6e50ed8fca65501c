package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/careline/telehealth-platform/internal/app/bootstrap"
	"github.com/careline/telehealth-platform/internal/booking"
	appconfig "github.com/careline/telehealth-platform/internal/config"
	"github.com/careline/telehealth-platform/internal/notify"
	"github.com/careline/telehealth-platform/internal/observability/metrics"
	"github.com/careline/telehealth-platform/pkg/logging"
)

// Standalone sweeper for deployments that scale the API horizontally and
// want a single expiry loop instead of one per API replica.
func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := bootstrap.BuildPgxPool(ctx, cfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	queue, err := bootstrap.BuildNotifyQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build notification queue", "error", err)
		os.Exit(1)
	}
	contacts := notify.NewPostgresContacts(pool)
	notifier := notify.NewService(queue, contacts, logger)
	if _, inProcess := queue.(*notify.MemoryQueue); inProcess {
		sender := bootstrap.BuildEmailSender(ctx, cfg, logger)
		go notify.NewWorker(queue, sender, logger).Run(ctx)
	}

	bookingRepo := booking.NewRepository(pool)
	bookingMetrics := metrics.NewBookingMetrics(prometheus.NewRegistry())
	sweeper := booking.NewSweeper(bookingRepo, notifier, bookingMetrics, logger, cfg.PendingBookingTTL, cfg.SweepInterval)
	go sweeper.Run(ctx)
	logger.Info("sweeper started", "ttl", cfg.PendingBookingTTL, "interval", cfg.SweepInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("sweeper shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
