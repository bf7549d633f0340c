package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Davronbekjonbek/planshet-back/config"
	"github.com/Davronbekjonbek/planshet-back/internal/api"
	"github.com/Davronbekjonbek/planshet-back/internal/broker"
	"github.com/Davronbekjonbek/planshet-back/internal/kobo"
	"github.com/Davronbekjonbek/planshet-back/internal/redisclient"
	"github.com/Davronbekjonbek/planshet-back/internal/service"
	"github.com/Davronbekjonbek/planshet-back/internal/store"
	"github.com/Davronbekjonbek/planshet-back/internal/util"
	"github.com/Davronbekjonbek/planshet-back/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type startStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting price monitoring service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("timezone", cfg.Server.Timezone))

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Schema applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventsProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents)
	defer eventsProducer.Close()
	ingestionProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicIngestion)
	defer ingestionProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(eventsProducer, ingestionProducer)

	clock := service.NewPeriodClock(db, redisClient, cfg.Server.Location())
	ledgerService := service.NewLedgerService(db, clock, eventPublisher)
	rolloverService := service.NewRolloverService(db, redisClient,
		cfg.Business.RolloverBatchSize,
		time.Duration(cfg.Business.RolloverLockSeconds)*time.Second)
	rollupService := service.NewRollupService(db, clock)
	periodService := service.NewPeriodService(db, eventPublisher, clock)
	catalogService := service.NewCatalogService(db, clock)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	workers := []startStopper{
		worker.NewIngestionWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicIngestion, cfg.Kafka.ConsumerGroup+"-ingestion"),
			ledgerService),
		worker.NewRolloverWorker(
			broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPriceEvents, cfg.Kafka.ConsumerGroup+"-rollover"),
			rolloverService, eventPublisher),
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Worker stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Kobo.Enabled {
		poller := worker.NewKoboPoller(
			kobo.NewClient(cfg.Kobo.BaseURL, cfg.Kobo.FormID, cfg.Kobo.APIToken),
			eventPublisher,
			redisClient,
			time.Duration(cfg.Kobo.PollIntervalSeconds)*time.Second)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = poller.Start(workerCtx)
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Ledger:  ledgerService,
		Rollup:  rollupService,
		Periods: periodService,
		Clock:   clock,
		Catalog: catalogService,
		Readiness: map[string]api.Pinger{
			"database": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
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

	workerCancel()
	wg.Wait()
	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Warn("Error stopping worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
