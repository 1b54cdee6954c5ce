package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nourishpath/platform/pkg/acknowledgements"
	"github.com/nourishpath/platform/pkg/activity"
	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/common/database"
	"github.com/nourishpath/platform/pkg/common/kafka"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/dietplan"
	"github.com/nourishpath/platform/pkg/documents"
	"github.com/nourishpath/platform/pkg/events"
	"github.com/nourishpath/platform/pkg/gateway/auth"
	"github.com/nourishpath/platform/pkg/gateway/routes"
	"github.com/nourishpath/platform/pkg/identity"
	"github.com/nourishpath/platform/pkg/journey"
	"github.com/nourishpath/platform/pkg/orders"
	"github.com/nourishpath/platform/pkg/reports"
	"github.com/nourishpath/platform/pkg/rolegate"
	"github.com/nourishpath/platform/pkg/storage"
	"github.com/nourishpath/platform/pkg/workflow"
	"gorm.io/gorm"
)

type migrator interface {
	AutoMigrate() error
}

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to open entity store")
	}
	defer closeDB(db)

	policy, err := rolegate.LoadPolicy(cfg.RolePolicyPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load role policy")
	}
	gate, err := rolegate.New(policy)
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid role policy")
	}

	tokens, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, 0)
	if err != nil {
		logger.Log.WithError(err).Fatal("JWT_SECRET must be configured")
	}

	var publisher events.Publisher = events.Discard
	if cfg.EventsEnabled {
		producer := kafka.NewProducerWithConfig(cfg, cfg.JourneyEventTopic)
		defer producer.Close()
		publisher = producer
	} else {
		logger.Log.Info("Workflow events disabled")
	}

	redisClient := database.GetRedis()
	defer database.CloseRedis()
	counts := storage.NewPendingCounts(redisClient, cfg.PendingCountTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Without a blob store, uploads and report archiving answer 503.
	var (
		uploads documents.UploadSigner
		blobs   reports.BlobWriter
	)
	if store, err := storage.NewObjectStore(ctx, cfg); err != nil {
		logger.Log.WithError(err).Warn("Blob store not configured")
	} else {
		uploads, blobs = store, store
	}

	identityRepo := identity.NewRepository(db)
	journeyRepo := journey.NewRepository(db)
	documentRepo := documents.NewRepository(db)
	planRepo := dietplan.NewRepository(db)
	ackRepo := acknowledgements.NewRepository(db)
	orderRepo := orders.NewRepository(db)
	activityRepo := activity.NewRepository(db)
	for _, repo := range []migrator{identityRepo, journeyRepo, documentRepo, planRepo, ackRepo, orderRepo, activityRepo} {
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate entity store")
		}
	}

	users := identity.NewService(identityRepo)
	tasks := acknowledgements.NewService(ackRepo, users, counts, publisher)
	stages := journey.NewService(journeyRepo, gate, tasks, publisher)
	docs := documents.NewService(documentRepo, gate, uploads, publisher)
	plans := dietplan.NewService(planRepo, gate, publisher)
	orderService := orders.NewService(orderRepo, publisher)
	feed := activity.NewService(activityRepo)
	coordinator := workflow.NewCoordinator(stages, docs, plans, tasks, orderService, feed)

	compositor := reports.NewCompositor(reports.Sources{
		Users:     users,
		Stages:    stages,
		Documents: docs,
		Plans:     plans,
		Tasks:     tasks,
	})
	var archiver *reports.Archiver
	if blobs != nil {
		archiver = reports.NewArchiver(compositor, blobs, docs, feed, publisher)
	}

	if cfg.PaymentWebhookSecret == "" {
		logger.Log.Warn("PAYMENT_WEBHOOK_SECRET not set, payment webhooks are disabled")
	}
	workflowHandler := workflow.NewHandler(coordinator, cfg.PaymentWebhookSecret)

	router := routes.NewRouter(routes.Options{
		Config:   cfg,
		Tokens:   tokens,
		Profiles: users,
		Health: routes.NewHealthHandler(db, map[string]routes.ReadinessCheck{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}),
		API: []routes.Registrar{
			identity.NewHandler(users),
			journey.NewHandler(stages),
			documents.NewHandler(docs),
			dietplan.NewHandler(plans),
			acknowledgements.NewHandler(tasks),
			orders.NewHandler(orderService),
			activity.NewHandler(feed),
			reports.NewHandler(compositor, archiver),
			workflowHandler,
		},
		Public: []routes.Registrar{routes.WebhookRoutes(workflowHandler.RegisterWebhooks)},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Journey Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Journey Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Journey Service stopped")
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Log.WithError(err).Warn("Failed to close entity store")
	}
}
