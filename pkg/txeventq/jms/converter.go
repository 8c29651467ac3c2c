package jms

import (
	"encoding/json"
	"fmt"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

// Converter serialises a QueueMessage into a Kafka record value.
type Converter interface {
	Convert(m *QueueMessage) ([]byte, error)
}

// Converter names accepted by NewConverter
const (
	ConverterJSON = "json"
	ConverterAvro = "avro"
)

// NewConverter returns the converter registered under name. An empty name
// selects JSON with an embedded schema.
func NewConverter(name string) (Converter, error) {
	switch name {
	case "", ConverterJSON:
		return JSONConverter{SchemasEnable: true}, nil
	case ConverterAvro:
		return AvroConverter{}, nil
	default:
		return nil, fmt.Errorf("unknown converter %q", name)
	}
}

// JSONConverter writes the structured record as JSON, wrapped in a
// schema/payload envelope when SchemasEnable is set. Byte arrays are base64.
type JSONConverter struct {
	SchemasEnable bool
}

func (c JSONConverter) Convert(m *QueueMessage) ([]byte, error) {
	s, err := m.Struct()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message %s: %w", m.ID, err)
	}
	if c.SchemasEnable {
		return json.Marshal(record.NewEnvelope(s))
	}
	return json.Marshal(s)
}

// AvroConverter writes bare Avro binary using AvroSchema.
type AvroConverter struct{}

func (AvroConverter) Convert(m *QueueMessage) ([]byte, error) {
	return m.MarshalAvro()
}
