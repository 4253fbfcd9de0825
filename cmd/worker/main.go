package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearbill/claims-intake/internal/bootstrap"
	"github.com/clearbill/claims-intake/internal/config"
	"github.com/clearbill/claims-intake/internal/observability/logging"
	"github.com/clearbill/claims-intake/internal/observability/metrics"
)

const service = "claims-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap error", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics(service)
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: metricsHandler(workerMetrics),
	}
	go func() {
		slog.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	processTimeout := time.Duration(cfg.ExtractionTimeoutSecs) * time.Second
	if processTimeout <= 0 {
		processTimeout = 2 * time.Minute
	}

	slog.Info("worker subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeClaimIngested(ctx, func(handlerCtx context.Context, claimID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, processTimeout)
		defer cancel()

		observeQueueLag(processCtx, app, workerMetrics, claimID)

		workerMetrics.StartClaim()
		start := time.Now()
		err := app.ProcessUC.ProcessByID(processCtx, claimID)
		workerMetrics.FinishClaim(service, time.Since(start), err)
		return err
	})
	if err != nil {
		slog.Error("worker subscribe error", "error", err)
		os.Exit(1)
	}
}

func metricsHandler(m *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// observeQueueLag records intake-to-processing delay, but only for the first
// attempt so retries do not skew the histogram.
func observeQueueLag(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, claimID string) {
	claim, err := app.Repo.GetByID(ctx, claimID)
	if err != nil {
		return
	}
	if claim.AIProcessing.Attempts > 0 {
		return
	}
	m.ObserveQueueLag(service, time.Since(claim.CreatedAt))
}
