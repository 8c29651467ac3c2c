package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	TransformationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_transformation_errors_total",
			Help: "Total number of transformation errors by stage and pipeline",
		},
		[]string{"stage", "pipeline", "source", "sink"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_publish_errors_total",
			Help: "Total number of publish errors by sink",
		},
		[]string{"sink"},
	)

	ProcessedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_processed_records_total",
			Help: "Total number of records routed by pipeline",
		},
		[]string{"pipeline", "source", "sink"},
	)

	RecordProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teq_record_processing_duration_seconds",
			Help:    "Duration of record processing",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "source"},
	)

	RecordsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_records_enqueued_total",
			Help: "Kafka records written to a queue",
		},
		[]string{"queue"},
	)

	EnqueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_enqueue_errors_total",
			Help: "Failed enqueue batches",
		},
		[]string{"queue"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_decode_errors_total",
			Help: "Dequeued messages that could not be translated",
		},
		[]string{"queue"},
	)

	OffsetCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teq_offset_commits_total",
			Help: "Offset commits by topic and partition",
		},
		[]string{"topic", "partition"},
	)

	StaleOffsetsIgnored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "teq_stale_offsets_ignored_total",
			Help: "Offset commits at or behind the stored position",
		},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teq_batch_duration_seconds",
			Help:    "Time to translate, enqueue and commit one batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)

type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5 seconds
	ReadHeaderTimeout time.Duration // defaults to 3 seconds
	Logger            *zap.Logger
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options.
// The server shuts down gracefully when ctx is canceled.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		effectiveOpts.Logger = opts.Logger
	}
	logger := effectiveOpts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server stopped")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
