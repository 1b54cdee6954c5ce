package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/acknowledgements"
	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/kafka"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/gateway/routes"
	"github.com/nourishpath/platform/pkg/identity"
	"github.com/nourishpath/platform/pkg/reminders"
	"github.com/nourishpath/platform/pkg/storage"
)

const reminderPort = "8081"

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to open entity store")
	}

	redisClient := database.GetRedis()
	defer database.CloseRedis()

	// The journey service owns the schema; this worker only reads it.
	users := identity.NewService(identity.NewRepository(db))
	tasks := acknowledgements.NewService(
		acknowledgements.NewRepository(db),
		users,
		storage.NewPendingCounts(redisClient, cfg.PendingCountTTL),
		events.Discard,
	)
	projector := reminders.NewProjector(tasks)

	consumer := kafka.NewConsumerWithConfig(cfg, cfg.JourneyEventTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Consume(ctx, projector.Handle); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Fatal("Consumer error")
		}
	}()

	router := mux.NewRouter()
	routes.NewHealthHandler(db, map[string]routes.ReadinessCheck{
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}).Register(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.ServerHost, reminderPort),
		Handler: router,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  reminderPort,
			"topic": cfg.JourneyEventTopic,
		}).Info("Reminder Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Reminder Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Reminder Service stopped")
}
