package teq

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/txeventq/pkg/metrics"
	"github.com/edgeflare/txeventq/pkg/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register built-in connectors
	_ "github.com/edgeflare/txeventq/pkg/pipeline/peer/debug"
	_ "github.com/edgeflare/txeventq/pkg/pipeline/peer/kafka"
	_ "github.com/edgeflare/txeventq/pkg/pipeline/peer/txeventq"
)

var (
	prometheusEnabled bool
	prometheusAddr    string
)

var sinkCmd = &cobra.Command{
	Use:     "sink",
	Aliases: []string{"run"},
	Short:   "Run the Kafka to TxEventQ pipeline",
	Long: `Run the configured pipelines. Without a pipeline section the config's
kafka topic is consumed into the txeventq queue.`,
	RunE: runSink,
}

func runSink(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	pc, err := cfg.PipelineConfig()
	if err != nil {
		return err
	}
	for i := range pc.Peers {
		pc.Peers[i].Args = append(pc.Peers[i].Args, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	doneChan := make(chan struct{})

	var wg sync.WaitGroup

	if prometheusEnabled || cfg.Metrics.Enabled {
		addr := prometheusAddr
		if !cmd.Flags().Changed("metrics-addr") {
			addr = cfg.Metrics.Addr
		}
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: addr, Logger: logger})
	}

	m := pipeline.NewManager(logger)
	if err := m.Init(pc); err != nil {
		return fmt.Errorf("failed to initialize peers: %w", err)
	}
	defer m.Close()

	if err := m.Start(ctx, pc, &wg, errChan); err != nil {
		return fmt.Errorf("failed to start pipeline processing: %w", err)
	}

	var runErr error
	select {
	case <-sigChan:
		logger.Info("received termination signal, shutting down")
	case runErr = <-errChan:
		logger.Error("pipeline error", zap.Error(runErr))
	}
	cancel()

	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10 seconds")
	}

	return runErr
}

func init() {
	sinkCmd.Flags().BoolVar(&prometheusEnabled, "metrics", false, "Enable Prometheus metrics server")
	sinkCmd.Flags().StringVar(&prometheusAddr, "metrics-addr", ":9100", "Prometheus metrics server address")
}
