package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/careline/telehealth-platform/internal/app/bootstrap"
	appconfig "github.com/careline/telehealth-platform/internal/config"
	"github.com/careline/telehealth-platform/internal/notify"
	"github.com/careline/telehealth-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.NotifyQueueURL == "" || cfg.UseMemoryNotifyQueue {
		logger.Error("notify worker requires NOTIFY_QUEUE_URL and USE_MEMORY_NOTIFY_QUEUE=false")
		os.Exit(1)
	}

	queue, err := bootstrap.BuildNotifyQueue(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build notification queue", "error", err)
		os.Exit(1)
	}
	sender := bootstrap.BuildEmailSender(ctx, cfg, logger)

	worker := notify.NewWorker(queue, sender, logger)
	go worker.Run(ctx)
	logger.Info("notify worker started", "queue", cfg.NotifyQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("notify worker shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
