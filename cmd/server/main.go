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

	"studio-commerce/config"
	"studio-commerce/internal/api"
	"studio-commerce/internal/broker"
	"studio-commerce/internal/gateway"
	"studio-commerce/internal/redisclient"
	"studio-commerce/internal/service"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"
	"studio-commerce/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting studio commerce service")

	tp, err := util.InitTracer("studio-commerce", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicStore)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	var paymentGateway gateway.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		paymentGateway = gateway.NewStripeGateway(cfg.Stripe)
		log.Println("Stripe gateway initialized")
	} else {
		// No secret key means local development; payments are simulated.
		paymentGateway = gateway.NewSimulatedGateway()
		log.Println("No Stripe key configured, using simulated gateway")
	}

	creditService := service.NewCreditService(db)
	pricingService := service.NewPricingService(db)
	cartService := service.NewCartService(db, redisClient)
	billingService := service.NewBillingService(db, paymentGateway, eventPublisher, cfg.Billing.MaxRetries)
	fulfillmentService := service.NewFulfillmentService(db, paymentGateway, creditService, redisClient, eventPublisher)
	checkoutService := service.NewCheckoutService(db, paymentGateway, pricingService,
		creditService, fulfillmentService, billingService, cartService, cfg.Stripe)

	sweepWorker := worker.NewSweepWorker(billingService, db, redisClient, cfg.Billing.SweepSchedule)
	if err := sweepWorker.Start(); err != nil {
		log.Fatalf("Failed to start sweep worker: %v", err)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(db, paymentGateway, cartService, checkoutService,
		fulfillmentService, creditService, billingService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
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

	sweepWorker.Stop()

	log.Println("Server exited")
}
