package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booking-service/config"
	"booking-service/internal/api"
	"booking-service/internal/broker"
	"booking-service/internal/gateway"
	"booking-service/internal/pricing"
	"booking-service/internal/redisclient"
	"booking-service/internal/service"
	"booking-service/internal/store"
	"booking-service/internal/util"
	"booking-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting booking service", zap.String("env", cfg.Server.Env))
	cfg.LogWarnings(logger)

	tp, err := util.InitTracer("booking-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer util.ShutdownTracer(tp)

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		migrateCancel()
		log.Fatalf("Failed to apply schema: %v", err)
	}
	migrateCancel()
	logger.Info("Database connected")

	// Redis only accelerates dedupe and coordinates sweeps; Postgres stays authoritative.
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, continuing without cache and sweep lock", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicBooking)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicBooking))

	eventPublisher := broker.NewEventPublisher(producer)

	paymentGateway := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:     cfg.Payment.SecretKey,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Currency:      cfg.Payment.Currency,
		ReturnURL:     cfg.Payment.ReturnURL,
	})

	calculator := pricing.NewCalculator(cfg.Business.CleaningFee, cfg.Business.ServiceFee, cfg.Business.TaxRateBps)

	reservationService := service.NewReservationService(db, paymentGateway, eventPublisher, calculator, cfg.Business.HoldDuration)
	reconciler := service.NewWebhookReconciler(paymentGateway, reservationService, db)

	var locker worker.Locker
	if redisClient != nil {
		reservationService.WithIdempotencyCache(redisClient)
		reconciler.WithEventClaimer(redisClient)
		locker = redisClient
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweeper := worker.NewSweeper(reservationService, locker, cfg.Business.SweepInterval)
	sweeper.Start(workerCtx)

	listingConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicListing, cfg.Kafka.ConsumerGroup)
	listingWorker := worker.NewListingWorker(listingConsumer, service.NewListingSync(db))
	go func() {
		if err := listingWorker.Start(workerCtx); err != nil {
			logger.Error("Listing worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(reservationService, reconciler, cfg.Auth.JWTSecret)
	handler.AddReadinessCheck("database", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	sweeper.Stop()
	workerCancel()
	if err := listingWorker.Stop(); err != nil {
		logger.Error("Error stopping listing worker", zap.Error(err))
	}
	reservationService.Drain()

	logger.Info("Server exited")
}
