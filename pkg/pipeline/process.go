package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeflare/txeventq/pkg/metrics"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/pipeline/transform"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// distributeToSinks blocks on full sink channels: a dropped record would
// leave a hole behind offsets that later records commit.
func distributeToSinks(
	ctx context.Context,
	pl Pipeline,
	source Source,
	r record.Record,
	sinkChannels map[string]chan record.Record,
) {
	for _, sink := range pl.Sinks {
		ch, ok := sinkChannels[sink.Name]
		if !ok {
			continue
		}
		select {
		case ch <- r:
			metrics.ProcessedRecords.WithLabelValues(pl.Name, source.Name, sink.Name).Inc()
		case <-ctx.Done():
			return
		}
	}
}

func applyTransformations(r *record.Record, transformations []transform.Transformation) (*record.Record, error) {
	if len(transformations) == 0 {
		return r, nil
	}

	if r == nil {
		return nil, fmt.Errorf("cannot transform nil record")
	}

	manager := transform.NewManager()
	manager.RegisterBuiltins()

	chainTransformations, err := manager.Chain(transformations)
	if err != nil {
		return nil, fmt.Errorf("error creating transformation pipeline: %w", err)
	}

	return chainTransformations(r)
}

// report hands err to errChan unless an earlier error is still unread.
func report(errChan chan<- error, err error) {
	select {
	case errChan <- err:
	default:
	}
}

// processSinkRecords publishes records to one sink until ctx is done. The
// first transformation or publish error stops the sink and is reported on
// errChan, so no later record can commit past a failed one.
func (m *Manager) processSinkRecords(
	ctx context.Context,
	wg *sync.WaitGroup,
	pl Pipeline,
	sink Sink,
	peer *Peer,
	ch <-chan record.Record,
	errChan chan<- error,
) {
	defer wg.Done()

	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return
			}

			transformed, err := applyTransformations(&r, sink.Transformations)
			if err != nil {
				metrics.TransformationErrors.WithLabelValues("sink", pl.Name, "multiple", sink.Name).Inc()
				m.logger.Error("sink transformation error", zap.String("sink", sink.Name), zap.Error(err))
				report(errChan, fmt.Errorf("transform for %s: %w", sink.Name, err))
				return
			}
			if transformed == nil {
				continue
			}

			if err := peer.Connector().Pub(*transformed); err != nil {
				metrics.PublishErrors.WithLabelValues(sink.Name).Inc()
				m.logger.Error("publish error", zap.String("sink", peer.Name), zap.Error(err))
				report(errChan, fmt.Errorf("publish to %s: %w", peer.Name, err))
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// ProcessRecord applies source and pipeline transformations to r and hands
// the result to every sink of pl. A record a filter drops is not an error;
// a failing transformation is, and r reaches no sink.
func (m *Manager) ProcessRecord(
	ctx context.Context,
	pl Pipeline,
	source Source,
	r record.Record,
	sinkChannels map[string]chan record.Record,
) error {
	timer := prometheus.NewTimer(metrics.RecordProcessingDuration.WithLabelValues(pl.Name, source.Name))
	defer timer.ObserveDuration()

	transformed, err := m.applyRecordTransformations(r, source, pl)
	if err != nil || transformed == nil {
		return err
	}

	distributeToSinks(ctx, pl, source, *transformed, sinkChannels)
	return nil
}

func (m *Manager) applyRecordTransformations(r record.Record, source Source, pl Pipeline) (*record.Record, error) {
	transformed, err := applyTransformations(&r, source.Transformations)
	if err != nil {
		metrics.TransformationErrors.WithLabelValues("source", pl.Name, source.Name, "").Inc()
		m.logger.Error("source transformation error", zap.String("source", source.Name), zap.Error(err))
		return nil, fmt.Errorf("source %s transform: %w", source.Name, err)
	}
	if transformed == nil {
		return nil, nil
	}

	transformed, err = applyTransformations(transformed, pl.Transformations)
	if err != nil {
		metrics.TransformationErrors.WithLabelValues("pipeline", pl.Name, source.Name, "").Inc()
		m.logger.Error("pipeline transformation error", zap.String("pipeline", pl.Name), zap.Error(err))
		return nil, fmt.Errorf("pipeline %s transform: %w", pl.Name, err)
	}

	return transformed, nil
}
