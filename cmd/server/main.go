package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pr-review-automation/internal/config"
	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/forge"
	"pr-review-automation/internal/llmprovider"
	"pr-review-automation/internal/llmreview"
	"pr-review-automation/internal/orchestrator"
	"pr-review-automation/internal/queue"
	"pr-review-automation/internal/storage"
	"pr-review-automation/internal/vuln"
	"pr-review-automation/internal/webhook"

	"github.com/google/uuid"
)

func main() {
	cfg := config.LoadConfig()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, logCleanup := setupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	forgeClient, err := forge.NewGitHubAppClient(cfg.Forge.AppID, []byte(cfg.Forge.PrivateKey), cfg.Forge.BaseURL)
	if err != nil {
		slog.Error("init forge client failed", "error", err)
		os.Exit(1)
	}

	provider, err := llmprovider.New(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		slog.Error("init llm provider failed", "error", err)
		os.Exit(1)
	}
	analyzer := &llmreview.Analyzer{Provider: provider, MaxTokens: cfg.LLM.MaxTokens, NewID: func() string { return uuid.NewString() }}

	var vulnClient *vuln.Client
	if cfg.Vuln.Enabled {
		vulnClient = vuln.NewClient(cfg.Vuln.OSVURL)
	}

	var store storage.Repository
	if cfg.Storage.Driver == "sqlite" {
		store, err = storage.NewSQLiteRepository(cfg.Storage.DSN)
		if err != nil {
			slog.Error("init storage failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	} else if cfg.Storage.Driver != "" {
		slog.Warn("unknown storage driver", "driver", cfg.Storage.Driver)
	}

	orch := &orchestrator.Orchestrator{
		Forge:      forgeClient,
		Analyzer:   analyzer,
		VulnClient: vulnClient,
		Storage:    store,
		Config:     cfg,
	}

	var jobQueue queue.Queue
	switch cfg.Queue.Backend {
	case "broker":
		jobQueue, err = queue.NewBrokerQueue(cfg.Queue.BrokerURL)
		if err != nil {
			slog.Error("init broker queue failed", "error", err)
			os.Exit(1)
		}
	default:
		jobQueue = queue.NewMemoryQueue(cfg.Queue.Workers, 100)
	}
	defer jobQueue.Close()

	processCtx, cancelProcess := context.WithCancel(context.Background())
	go func() {
		if err := jobQueue.Process(processCtx, runJob(orch)); err != nil {
			slog.Error("queue processing stopped", "error", err)
		}
	}()

	webhookHandler := webhook.NewHandler(cfg, jobQueue)

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhookHandler)
	mux.Handle("/health", webhookHandler)

	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			slog.Warn("received request at root path",
				"path", r.URL.Path,
				"method", r.Method,
				"msg", "please configure webhook URL to path '/webhook'",
			)
		}
		http.NotFound(w, r)
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown forced", "error", err)
		os.Exit(1)
	}

	slog.Info("waiting for in-flight review jobs")
	cancelProcess()
	done := make(chan struct{})
	go func() {
		jobQueue.Close()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("jobs drained")
	case <-time.After(30 * time.Second):
		slog.Warn("job drain timeout, exiting")
	}

	slog.Info("server stopped")
}

// runJob adapts the orchestrator's ReviewResult-returning Run method to
// the queue's error-returning Handler shape: a failed result becomes an
// error so the broker backend retries it.
func runJob(orch *orchestrator.Orchestrator) queue.Handler {
	return func(ctx context.Context, job domain.ReviewJob) error {
		result := orch.Run(ctx, job)
		if !result.Success {
			return fmt.Errorf("review job failed: %s", result.Error)
		}
		return nil
	}
}

// setupLogger creates a logger based on configuration, fanning out to
// multiple comma-separated outputs; anything other than stdout/stderr is
// treated as a log file path and rotated via lumberjack.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var writers []io.Writer
	var closers []io.Closer
	outputs := strings.Split(cfg.Log.Output, ",")

	for _, output := range outputs {
		output = strings.TrimSpace(output)
		if output == "" {
			continue
		}

		var w io.Writer
		switch output {
		case "stderr":
			w = os.Stderr
		case "stdout":
			w = os.Stdout
		default:
			l := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			}
			w = l
			closers = append(closers, l)
		}
		writers = append(writers, w)
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: cfg.GetLogLevel()}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	cleanup := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	return slog.New(handler), cleanup
}
