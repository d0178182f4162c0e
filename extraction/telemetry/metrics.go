package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxscore_runs_total",
		Help: "Pipeline runs, by outcome",
	}, []string{"status"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boxscore_frames_sampled_total",
		Help: "Representative frames decoded from scenes or still images",
	})

	FramesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "boxscore_frames_skipped_total",
		Help: "Scenes whose representative frame could not be decoded",
	})

	FrameExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxscore_frame_extractions_total",
		Help: "Per-frame extraction calls, by status",
	}, []string{"status"})

	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boxscore_model_call_duration_seconds",
		Help:    "Duration of model calls",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180},
	}, []string{"stage"})

	ConsolidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxscore_consolidations_total",
		Help: "Consolidation passes, by status",
	}, []string{"status"})

	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxscore_queries_total",
		Help: "Dataset queries, by status",
	}, []string{"status"})

	ActiveExtractions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boxscore_active_extractions",
		Help: "Per-frame extraction calls currently in flight",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boxscore_model_retry_total",
		Help: "Model call retries, by reason",
	}, []string{"reason"})
)

// ObserveModelCall records the duration of a model call that started at start.
func ObserveModelCall(stage string, start time.Time) {
	ModelCallDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz on addr until ctx is done.
// The listener is bound before returning so a bad address fails fast; the returned server's Addr
// is the bound address.
func StartMetricsServer(ctx context.Context, addr string, logger *slog.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv, nil
}
