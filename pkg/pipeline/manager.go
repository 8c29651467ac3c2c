package pipeline

import (
	"encoding/json"
	"fmt"
	"plugin"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/edgeflare/txeventq/pkg/pipeline/transform"
	"go.uber.org/zap"
)

var (
	connectors = make(map[string]Connector)
	mu         sync.RWMutex
)

type SourceSubscription struct {
	SinkChannels map[string]chan record.Record
	PipelineName string
}

// Manager handles connectors and peers for data pipeline operations.
type Manager struct {
	peers         map[string]Peer
	subscriptions map[string][]SourceSubscription
	logger        *zap.Logger
	// ConnectBackOff bounds the retries of a failing peer Connect.
	ConnectBackOff func() backoff.BackOff
}

func defaultConnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 3 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// NewManager returns a new Manager using the registered connectors. A nil
// logger selects zap's production logger.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	return &Manager{
		peers:          map[string]Peer{},
		subscriptions:  map[string][]SourceSubscription{},
		logger:         logger,
		ConnectBackOff: defaultConnectBackOff,
	}
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// RegisterConnectorPlugin loads and registers a connector plugin from the specified path.
func (m *Manager) RegisterConnectorPlugin(path string, name string) error {
	plug, err := plugin.Open(path)
	if err != nil {
		return err
	}

	symbol, err := plug.Lookup("Connector")
	if err != nil {
		return err
	}

	connector, ok := symbol.(*Connector)
	if !ok {
		return fmt.Errorf("invalid connector plugin")
	}

	RegisterConnector(name, *connector)
	return nil
}

// AddPeer creates a new Peer bound to a registered connector.
func (m *Manager) AddPeer(connector string, name string) (*Peer, error) {
	mu.RLock()
	_, exists := connectors[connector]
	mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("connector %s not found", connector)
	}

	peer := Peer{ConnectorName: connector, Name: name}
	m.peers[name] = peer
	return &peer, nil
}

func (m *Manager) Peers() []Peer {
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	return peers
}

func (m *Manager) GetPeer(name string) (*Peer, error) {
	if peer, exists := m.peers[name]; exists {
		return &peer, nil
	}
	return nil, fmt.Errorf("peer %s not found", name)
}

// AddSubscription adds a new subscription for a source
func (m *Manager) AddSubscription(sourceName, pipelineName string, sinkChannels map[string]chan record.Record) {
	mu.Lock()
	m.subscriptions[sourceName] = append(m.subscriptions[sourceName], SourceSubscription{
		PipelineName: pipelineName,
		SinkChannels: sinkChannels,
	})
	mu.Unlock()
}

// GetSubscriptions returns all subscriptions for a source
func (m *Manager) GetSubscriptions(sourceName string) []SourceSubscription {
	mu.RLock()
	defer mu.RUnlock()
	return m.subscriptions[sourceName]
}

// IsFirstSubscription checks if this is the first subscription for a source
func (m *Manager) IsFirstSubscription(sourceName string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(m.subscriptions[sourceName]) == 0
}

// Source is a pipeline input with its transformations.
type Source struct {
	// Name must match one of configured peers
	Name string `mapstructure:"name"`
	// Source transformations are applied (in the order specified) as soon as a record is received before any processing.
	Transformations []transform.Transformation `mapstructure:"transformations"`
}

// Init connects all peers from configuration
func (m *Manager) Init(config *Config) error {
	m.logger.Info("initializing pipeline manager", zap.Int("peerCount", len(config.Peers)))
	for _, pl := range config.Plugins {
		if err := m.RegisterConnectorPlugin(pl.Path, pl.Name); err != nil {
			return fmt.Errorf("failed to load connector plugin %s: %w", pl.Name, err)
		}
		m.logger.Info("registered connector plugin", zap.String("name", pl.Name), zap.String("path", pl.Path))
	}
	for _, p := range config.Peers {
		m.logger.Debug("adding peer",
			zap.String("name", p.Name),
			zap.String("connector", p.ConnectorName))

		peer, err := m.AddPeer(p.ConnectorName, p.Name)
		if err != nil {
			return fmt.Errorf("failed to add peer %s: %w", p.Name, err)
		}

		peer.Config = p.Config
		peer.Args = p.Args
		m.peers[p.Name] = *peer
		configJSON, err := json.Marshal(peer.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config for peer %s: %w", peer.Name, err)
		}

		connector := peer.Connector()
		if connector == nil {
			return fmt.Errorf("connector not found for peer %s", peer.Name)
		}

		connect := func() error {
			return connector.Connect(json.RawMessage(configJSON), peer.Args...)
		}
		notify := func(err error, d time.Duration) {
			m.logger.Warn("retrying connection",
				zap.String("name", peer.Name),
				zap.Duration("delay", d),
				zap.Error(err))
		}
		if err := backoff.RetryNotify(connect, m.ConnectBackOff(), notify); err != nil {
			m.logger.Error("failed to initialize connector after retries",
				zap.String("name", peer.Name),
				zap.Error(err))
			return fmt.Errorf("failed to initialize connector %s: %w", peer.Name, err)
		}

		m.logger.Info("connected peer",
			zap.String("name", peer.Name),
			zap.String("connector", p.ConnectorName))
	}

	m.logger.Info("initialized all peers", zap.Int("totalPeers", len(m.peers)))
	return nil
}

// Close disconnects every peer.
func (m *Manager) Close() {
	for _, p := range m.peers {
		if c := p.Connector(); c != nil {
			if err := c.Disconnect(); err != nil {
				m.logger.Warn("disconnect peer", zap.String("name", p.Name), zap.Error(err))
			}
		}
	}
}
