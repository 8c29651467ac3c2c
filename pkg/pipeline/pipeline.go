package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/pipeline/transform"
	"go.uber.org/zap"
)

// sinkBuffer is the capacity of each sink's record channel.
const sinkBuffer = 100

// Sink is a pipeline output with its transformations.
type Sink struct {
	// Name must match one of configured peers
	Name string `mapstructure:"name"`
	// Sink-specific transformations are applied after source and pipeline transformations, before sending to the specific sink
	Transformations []transform.Transformation `mapstructure:"transformations"`
}

// Pipeline configures a complete data processing pipeline.
type Pipeline struct {
	Name    string   `mapstructure:"name"`
	Sources []Source `mapstructure:"sources"`
	// Pipeline transformations are applied after source transformations and before sink transformations.
	// These are applied to all records flowing through a pipeline from its all sources to all sinks
	Transformations []transform.Transformation `mapstructure:"transformations"`
	Sinks           []Sink                     `mapstructure:"sinks"`
}

// Plugin is a connector built with -buildmode=plugin, exporting a
// Connector symbol.
type Plugin struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
}

type Config struct {
	Plugins   []Plugin   `mapstructure:"plugins"`
	Peers     []Peer     `mapstructure:"peers"`
	Pipelines []Pipeline `mapstructure:"pipelines"`
}

func (c *Config) GetPeer(peerName string) *Peer {
	for _, peer := range c.Peers {
		if peer.Name == peerName {
			return &peer
		}
	}
	return nil
}

func (c *Config) GetPipeline(pipelineName string) *Pipeline {
	for _, pipeline := range c.Pipelines {
		if pipeline.Name == pipelineName {
			return &pipeline
		}
	}
	return nil
}

// Start wires every pipeline of config: sources are subscribed once and
// fanned out to all pipelines using them, and each sink gets a goroutine
// draining its channel. Transformation and sink publish failures are
// reported on errChan.
func (m *Manager) Start(ctx context.Context, config *Config, wg *sync.WaitGroup, errChan chan<- error) error {
	for _, pl := range config.Pipelines {
		if err := m.setupPipeline(ctx, config, wg, pl, errChan); err != nil {
			return fmt.Errorf("failed to setup pipeline %s: %w", pl.Name, err)
		}
	}
	return nil
}

func (m *Manager) setupPipeline(ctx context.Context, config *Config, wg *sync.WaitGroup, pl Pipeline, errChan chan<- error) error {
	// Channels for each sink are shared across all sources
	sinkChannels := make(map[string]chan record.Record)
	for _, sink := range pl.Sinks {
		sinkChannels[sink.Name] = make(chan record.Record, sinkBuffer)
	}

	if err := m.LinkOffsets(pl); err != nil {
		return err
	}

	for _, source := range pl.Sources {
		if err := m.setupSource(ctx, config, wg, pl, source, sinkChannels, errChan); err != nil {
			return fmt.Errorf("failed to setup source %s: %w", source.Name, err)
		}
	}

	return m.SetupSinks(ctx, wg, pl, sinkChannels, errChan)
}

// LinkOffsets hands the first offset-tracking sink of pl to every resumable
// source of pl.
func (m *Manager) LinkOffsets(pl Pipeline) error {
	var resolver OffsetResolver
	for _, sink := range pl.Sinks {
		peer, err := m.GetPeer(sink.Name)
		if err != nil {
			return fmt.Errorf("sink peer %s not found: %w", sink.Name, err)
		}
		if r, ok := peer.Connector().(OffsetResolver); ok {
			resolver = r
			break
		}
	}
	if resolver == nil {
		return nil
	}

	for _, source := range pl.Sources {
		peer, err := m.GetPeer(source.Name)
		if err != nil {
			return fmt.Errorf("source peer %s not found: %w", source.Name, err)
		}
		if r, ok := peer.Connector().(Resumable); ok {
			r.SetOffsetResolver(resolver)
			m.logger.Info("source resumes from sink offsets",
				zap.String("pipeline", pl.Name),
				zap.String("source", source.Name))
		}
	}
	return nil
}

func (m *Manager) setupSource(
	ctx context.Context,
	config *Config,
	wg *sync.WaitGroup,
	pl Pipeline,
	source Source,
	sinkChannels map[string]chan record.Record,
	errChan chan<- error,
) error {
	peer, err := m.GetPeer(source.Name)
	if err != nil {
		return err
	}

	// Only the first subscription opens the source
	isFirst := m.IsFirstSubscription(source.Name)
	m.AddSubscription(source.Name, pl.Name, sinkChannels)
	if !isFirst {
		return nil
	}

	records, err := peer.Connector().Sub()
	if err != nil {
		return err
	}

	wg.Add(1)
	go m.processSourceWithFanout(ctx, wg, config, source.Name, records, errChan)
	return nil
}

func (m *Manager) processSourceWithFanout(
	ctx context.Context,
	wg *sync.WaitGroup,
	config *Config,
	sourceName string,
	records <-chan record.Record,
	errChan chan<- error,
) {
	defer wg.Done()

	for {
		select {
		case r, ok := <-records:
			if !ok {
				return
			}

			for _, sub := range m.GetSubscriptions(sourceName) {
				pl := config.GetPipeline(sub.PipelineName)
				if pl == nil {
					m.logger.Warn("pipeline not found", zap.String("pipeline", sub.PipelineName))
					continue
				}

				var matchingSource *Source
				for _, src := range pl.Sources {
					if src.Name == sourceName {
						matchingSource = &src
						break
					}
				}
				if matchingSource == nil {
					m.logger.Warn("source not found in pipeline",
						zap.String("source", sourceName),
						zap.String("pipeline", sub.PipelineName))
					continue
				}

				// stop consuming so no later record commits past this one
				if err := m.ProcessRecord(ctx, *pl, *matchingSource, r, sub.SinkChannels); err != nil {
					report(errChan, err)
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// SetupSinks starts one goroutine per sink of pl.
func (m *Manager) SetupSinks(
	ctx context.Context,
	wg *sync.WaitGroup,
	pl Pipeline,
	sinkChannels map[string]chan record.Record,
	errChan chan<- error,
) error {
	for _, sink := range pl.Sinks {
		sinkPeer, err := m.GetPeer(sink.Name)
		if err != nil {
			return fmt.Errorf("sink peer %s not found: %w", sink.Name, err)
		}

		ch := sinkChannels[sink.Name]
		wg.Add(1)
		go m.processSinkRecords(ctx, wg, pl, sink, sinkPeer, ch, errChan)
	}
	return nil
}
