package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"furbox-service/config"
	"furbox-service/internal/api"
	"furbox-service/internal/broker"
	"furbox-service/internal/pricing"
	"furbox-service/internal/redisclient"
	"furbox-service/internal/scheduler"
	"furbox-service/internal/service"
	"furbox-service/internal/store"
	"furbox-service/internal/store/memstore"
	"furbox-service/internal/util"
	"furbox-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting furbox service")

	tp, err := util.InitTracer("furbox-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	checks := map[string]api.Pinger{}

	var runner store.Runner
	if cfg.Database.Driver == "memory" {
		if cfg.Server.Env == "production" {
			log.Fatalf("DATABASE_DRIVER=memory is for local development only")
		}
		mem := memstore.New()
		mem.SeedDemo()
		runner = mem
		logger.Warn("Using in-memory store seeded with the demo catalog, data is lost on restart",
			zap.Int64("demo_user_id", memstore.DemoUserID))
	} else {
		db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.Migrate(migrateCtx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		runner = db
		checks["database"] = db
		log.Println("Database connected")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	checks["redis"] = redisClient
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	opts := service.Options{
		Rules: pricing.Rules{
			TaxRateBps:            cfg.Business.TaxRateBps,
			FreeShippingThreshold: cfg.Business.FreeShippingThreshold,
			ShippingFee:           cfg.Business.ShippingFee,
			BundleMinItems:        cfg.Business.BundleMinItems,
			BundleDiscountBps:     cfg.Business.BundleDiscountBps,
		},
		Location:       cfg.Business.Location(),
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	}

	services := api.Services{
		Drafts:   service.NewDraftService(runner, opts),
		Checkout: service.NewCheckoutService(runner, redisClient, eventPublisher, opts),
		Plans:    service.NewPlanService(runner, opts),
		Orders:   service.NewOrderService(runner, eventPublisher, opts),
		Renewals: service.NewRenewalService(runner, redisClient, eventPublisher, opts),
		Cart:     service.NewCartService(runner),
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.Renewal.SchedulerEnabled {
		daily := scheduler.NewDaily("renewals", cfg.Renewal.Hour, opts.Location, func(ctx context.Context) error {
			_, err := services.Renewals.ProcessRenewals(ctx)
			if errors.Is(err, service.ErrRenewalInProgress) {
				logger.Info("Renewal batch running on another instance, skipping")
				return nil
			}
			return err
		})
		go func() {
			if err := daily.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Renewal scheduler stopped", zap.Error(err))
			}
		}()
	}

	triggerConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRenewalTrigger, cfg.Kafka.ConsumerGroup)
	renewalWorker := worker.NewRenewalWorker(triggerConsumer, services.Renewals)
	go func() {
		if err := renewalWorker.Start(workerCtx); err != nil {
			log.Printf("Renewal worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(services, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%s", port),
			Handler: mux,
		}
		go func() {
			log.Printf("Starting metrics server on port %s", port)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server forced to shutdown: %v", err)
		}
	}

	workerCancel()
	renewalWorker.Stop()

	log.Println("Server exited")
}
