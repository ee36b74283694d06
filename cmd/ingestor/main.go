package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/coordinator"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/marketpulse/ingestor/internal/report"
	"github.com/marketpulse/ingestor/internal/source"
	"github.com/marketpulse/ingestor/internal/source/kalshi"
	"github.com/marketpulse/ingestor/internal/source/polymarket"
	"github.com/marketpulse/ingestor/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting marketpulse ingestor...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"environment":    cfg.Environment,
		"sources":        cfg.Sources,
		"change_windows": cfg.ChangeWindows,
		"run_interval":   cfg.RunInterval.String(),
		"report_mode":    cfg.ReportMode,
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	log.Info("Database connected")

	// Run auto-migration
	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}

	log.Info("Database migrations complete")

	// Initialize source adapters
	adapters, err := buildAdapters(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize source adapters")
	}

	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}
	log.WithField("adapters", names).Info("Source adapters initialized")

	// Initialize report sender
	sender := createReportSender(cfg, log)

	coord := coordinator.New(cfg, db, sender, log)

	// Start HTTP server (health + metrics)
	go startHTTPServer(cfg.HealthPort, log)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Run once and exit when no interval is configured
	if cfg.RunInterval <= 0 {
		summary, err := coord.Run(ctx, adapters)
		if err != nil {
			log.WithError(err).Fatal("Run failed")
		}
		if summary.Failed() {
			log.Error("Run finished with failed sources")
			os.Exit(1)
		}
		return
	}

	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()

	log.Info("Starting scheduled ingestion loop")

	// Run immediately on startup
	if _, err := coord.Run(ctx, adapters); err != nil {
		log.WithError(err).Error("Run failed")
	}

	for {
		select {
		case <-ticker.C:
			if _, err := coord.Run(ctx, adapters); err != nil {
				log.WithError(err).Error("Run failed")
			}
		case <-ctx.Done():
			log.Info("Graceful shutdown complete")
			return
		}
	}
}

func buildAdapters(cfg *config.Config) ([]source.Adapter, error) {
	var adapters []source.Adapter

	if cfg.SourceEnabled(config.SourceKalshi) {
		client, err := kalshi.NewClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("kalshi: %w", err)
		}
		adapters = append(adapters, client)
	}

	if cfg.SourceEnabled(config.SourcePolymarket) {
		adapters = append(adapters, polymarket.NewClient(cfg))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	return adapters, nil
}

func createReportSender(cfg *config.Config, log *logrus.Logger) report.Sender {
	modes := strings.Split(cfg.ReportMode, ",")
	for i, mode := range modes {
		modes[i] = strings.TrimSpace(mode)
	}

	var senders []report.Sender
	for _, mode := range modes {
		switch mode {
		case "log":
			senders = append(senders, report.NewLogSender(log))
		case "webhook":
			if cfg.ReportWebhookURL == "" {
				log.Warn("Webhook mode specified but REPORT_WEBHOOK_URL not set")
				continue
			}
			senders = append(senders, report.NewWebhookSender(cfg.ReportWebhookURL))
		default:
			log.WithField("mode", mode).Warn("Unknown report mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid report senders configured, using log")
		return report.NewLogSender(log)
	}
	if len(senders) == 1 {
		return senders[0]
	}
	return report.NewMultiSender(senders...)
}

func startHTTPServer(port int, log *logrus.Logger) {
	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy"}`)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		metrics.RecordHealthCheck(true)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready"}`)
	})

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.WithField("port", port).Info("Starting HTTP server (health + metrics)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("HTTP server failed")
	}
}
