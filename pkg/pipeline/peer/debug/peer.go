package debug

import (
	"encoding/json"

	"github.com/edgeflare/txeventq/pkg/pipeline"
	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"go.uber.org/zap"
)

// PeerDebug is a sink that logs every record it receives.
type PeerDebug struct {
	logger *zap.Logger
}

func (p *PeerDebug) Pub(r record.Record, _ ...any) error {
	if p.logger == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset),
		zap.ByteString("key", r.Key),
		zap.ByteString("value", r.Value),
	}
	for _, h := range r.Headers {
		fields = append(fields, zap.ByteString("header."+h.Key, h.Value))
	}
	p.logger.Info(pipeline.ConnectorDebug, fields...)
	return nil
}

// Connect takes a *zap.Logger in args; without one records are discarded.
func (p *PeerDebug) Connect(_ json.RawMessage, args ...any) error {
	for _, a := range args {
		if l, ok := a.(*zap.Logger); ok {
			p.logger = l
		}
	}
	return nil
}

func (p *PeerDebug) Sub(_ ...any) (<-chan record.Record, error) {
	return nil, pipeline.ErrConnectorTypeMismatch
}

func (p *PeerDebug) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePub
}

func (p *PeerDebug) Disconnect() error {
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorDebug, &PeerDebug{})
}
