package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/api"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/config"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/database"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/events"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/ledger"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/menu"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/monitoring"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/orders"
	"github.com/JohnOrlandSudoy/restaurant-server/internal/payments"
)

var (
	port        = flag.Int("port", 0, "API server port (overrides config)")
	metricsPort = flag.Int("metrics-port", 0, "Metrics server port (overrides config)")
	configFile  = flag.String("config", "configs/config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Initialize context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort != 0 {
		cfg.Server.MetricsPort = *metricsPort
	}

	// Initialize database
	if err := database.Init(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(database.Get()); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Event fan-out: websocket hub for subscribers, counted by prometheus
	metrics := monitoring.NewCollector()
	hub := events.NewHub()
	dispatcher := metrics.Instrument(hub)

	// Core services
	lgr := ledger.New(database.Get(), dispatcher)
	lgr.SetRetryPolicy(cfg.Ledger.MaxRetries, cfg.RetryBackoff())
	resolver := menu.NewResolver(database.Get(), lgr)
	orderSvc := orders.NewService(database.Get(), lgr, resolver, dispatcher)

	engine := payments.NewEngine(database.Get(), orderSvc, dispatcher, nil)
	engine.SetExpiry(cfg.PaymentExpiry())
	engine.SetPollInterval(cfg.PollInterval())
	engine.StartSweeper(ctx, cfg.SweepInterval())
	defer engine.Shutdown()

	// Start metrics server
	go startMetricsServer(cfg.Server.MetricsPort, metrics)

	// Start API server
	apiServer := api.NewServer(lgr, resolver, orderSvc, engine, hub, metrics)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: apiServer.Router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down servers...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		hub.Close(shutdownCtx)

		cancel() // Cancel main context
	}()

	log.Printf("Starting API server on port %d", cfg.Server.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("API server error: %v", err)
	}
}

func startMetricsServer(port int, metrics *monitoring.Collector) {
	metricsRouter := gin.Default()
	metricsRouter.GET("/metrics", gin.WrapH(metrics.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}

	log.Printf("Starting metrics server on port %d", port)
	if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Printf("Metrics server error: %v", err)
	}
}
