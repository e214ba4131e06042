package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/deepquery/guardrail/internal/admission"
	"github.com/deepquery/guardrail/internal/audit"
	"github.com/deepquery/guardrail/internal/budget"
	"github.com/deepquery/guardrail/internal/config"
	"github.com/deepquery/guardrail/internal/metrics"
	"github.com/deepquery/guardrail/internal/server"
	"github.com/deepquery/guardrail/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := os.Getenv("GUARDRAIL_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("guardrail", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	m := metrics.New()

	var recorder server.DecisionRecorder
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			log.Fatalf("Failed to open audit store: %v", err)
		}
		defer store.Close()
		recorder = store
		logger.Info("audit store enabled", slog.String("path", cfg.Audit.Path))
	}

	table := admission.NewTable(admission.Policy{
		Limit:             cfg.Admission.Limit,
		Window:            time.Duration(cfg.Admission.Window) * time.Second,
		ProtectedPrefixes: cfg.Admission.Prefixes,
		TrustProxyHeaders: cfg.Admission.TrustProxy,
		MaxEntries:        cfg.Admission.MaxEntries,
		CleanupInterval:   time.Duration(cfg.Admission.Cleanup) * time.Second,
	})

	loc, err := time.LoadLocation(cfg.Budget.Timezone)
	if err != nil {
		log.Fatalf("Invalid budget timezone %q: %v", cfg.Budget.Timezone, err)
	}
	limits := make(map[string]budget.ModelLimits, len(cfg.Budget.Models))
	for name, mc := range cfg.Budget.Models {
		limits[name] = budget.ModelLimits{
			RPM:             mc.RPM,
			TPM:             mc.TPM,
			RPD:             mc.RPD,
			MaxTokens:       mc.MaxTokens,
			MaxOutputTokens: mc.MaxOutput,
		}
	}
	governor := budget.New(limits,
		budget.WithTimezone(loc),
		budget.WithObserver(m),
	)

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
		Table:          table,
		Metrics:        m,
		Recorder:       recorder,
	}, logger)

	reserve := &server.ReserveHandler{Governor: governor, Logger: logger, Recorder: recorder}
	srv.Router.Post("/v1/reserve", reserve.ServeHTTP)
	srv.Router.Get("/healthz", healthHandler(table, governor))
	srv.Router.Handle("/metrics", m.Handler())

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func healthHandler(table *admission.Table, governor *budget.Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots := make([]budget.Snapshot, 0)
		for _, model := range governor.Models() {
			snapshots = append(snapshots, governor.Snapshot(model))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"admission": map[string]interface{}{
				"tracked_keys": table.Stats().TrackedKeys,
			},
			"models": snapshots,
		})
	}
}
