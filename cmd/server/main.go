// Command server wires the Snapshot Store, Job Store, Feed Adapter, Delay
// Queue, Analyzer, Scheduler/Worker, event bus, metrics, and HTTP surface
// together and runs until a termination signal: env-driven config,
// background goroutines, a blocking signal channel, graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chainwatch/internal/analyzer"
	"chainwatch/internal/api"
	"chainwatch/internal/config"
	"chainwatch/internal/eventbus"
	"chainwatch/internal/feed"
	"chainwatch/internal/metrics"
	"chainwatch/internal/queue"
	"chainwatch/internal/repository"
	"chainwatch/internal/scheduler"
)

func main() {
	yamlPath := flag.String("config", "", "optional path to a static YAML config file")
	flag.Parse()

	cfg, err := config.Load(*yamlPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Println("Initializing chainwatch scheduler...")
	log.Printf("Database: %s", config.RedactURL(cfg.DatabaseURL))
	log.Printf("Redis: %s", config.RedactURL(cfg.RedisURL))
	log.Printf("API Port: %s", cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer repo.Close()

	q, err := queue.New(cfg.RedisURL, cfg.WorkerCount)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	feedAdapter := feed.New(cfg.FeedTimeout)
	deps := analyzer.Deps{Feed: feedAdapter, Store: repo}

	bus := eventbus.New()
	defer bus.Close()

	sched := scheduler.New(repo, q, deps, bus)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.New(reg)
	collector.SubscribeEvents(bus)
	go collector.PollQueue(ctx, q, 5*time.Second)

	recovered, err := sched.RecoverOrphans(ctx, cfg.OrphanThreshold)
	if err != nil {
		log.Printf("orphan recovery scan failed: %v", err)
	} else if recovered > 0 {
		log.Printf("recovered %d orphaned job(s) on startup", recovered)
	}

	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	httpServer := api.NewServer(repo, q, sched, ":"+cfg.APIPort, cfg.AdminToken, cfg.RateLimitRPS, cfg.RateLimitBurst, metricsHandler)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting API server on :%s", cfg.APIPort)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Printf("scheduler stopped: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}

	sched.Stop()
	cancel()
	log.Println("Shutdown complete.")
}
