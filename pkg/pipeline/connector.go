package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

type ConnectorType int

const (
	ConnectorTypeUnknown ConnectorType = iota
	ConnectorTypePub                   // Sink / consumer-only
	ConnectorTypeSub                   // Source / producer-only
	ConnectorTypePubSub                // Source and sink
)

var (
	ErrConnectorTypeMismatch = errors.New("connector type mismatch")
)

// A Connector represents a data pipeline component.
type Connector interface {
	// Connect initializes the connector with the provided configuration.
	// The config parameter is a raw JSON message containing connector-specific settings.
	// Additional arguments can be passed via the args parameter.
	Connect(config json.RawMessage, args ...any) error

	// Pub sends the given record to the connector's destination.
	// It returns an error if the publish operation fails.
	Pub(r record.Record, args ...any) error

	// Sub provides a channel for consuming records.
	Sub(args ...any) (<-chan record.Record, error)

	// Type returns the type of the connector (SUB, PUB, or PUBSUB)
	Type() ConnectorType

	Disconnect() error
}

// OffsetResolver is a sink that keeps its own record of how far each
// partition was delivered.
type OffsetResolver interface {
	// ResumeOffsets returns the offset to consume next per partition, or a
	// negative sarama sentinel (OffsetOldest, OffsetNewest).
	ResumeOffsets(ctx context.Context, topic string, partitions []int32) (map[int32]int64, error)
}

// Resumable is a source that can start from positions held by a sink.
type Resumable interface {
	SetOffsetResolver(OffsetResolver)
}

// Predefined connectors
const (
	ConnectorDebug    = "debug"
	ConnectorKafka    = "kafka"
	ConnectorTxEventQ = "txeventq"
)

// RegisterConnector adds a new connector to the registry.
// The name parameter is used as a key to identify the connector type.
func RegisterConnector(name string, c Connector) {
	mu.Lock()
	defer mu.Unlock()
	connectors[name] = c
}
