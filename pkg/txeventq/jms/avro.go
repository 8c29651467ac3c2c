package jms

import (
	"fmt"

	"github.com/hamba/avro/v2"
)

const avroMessageSchema = `{
  "type": "record",
  "name": "JMSMessage",
  "namespace": "txeventq",
  "fields": [
    {"name": "jmsMessageType", "type": "string"},
    {"name": "jmsMessageId", "type": "string"},
    {"name": "jmsTimestamp", "type": "long"},
    {"name": "jmsDeliveryMode", "type": "int"},
    {"name": "jmsCorrelationId", "type": ["null", "string"], "default": null},
    {"name": "jmsReplyTo", "type": ["null", {
      "type": "record",
      "name": "JMSDestination",
      "fields": [
        {"name": "type", "type": "string"},
        {"name": "name", "type": "string"}
      ]
    }], "default": null},
    {"name": "jmsDestination", "type": ["null", "JMSDestination"], "default": null},
    {"name": "jmsRedelivered", "type": "boolean"},
    {"name": "jmsPriority", "type": ["null", "int"], "default": null},
    {"name": "jmsExpiration", "type": ["null", "long"], "default": null},
    {"name": "jmsType", "type": ["null", "string"], "default": null},
    {"name": "jmsRetry_count", "type": "int"},
    {"name": "jmsProperties", "type": {"type": "map", "values": {
      "type": "record",
      "name": "PropertyValue",
      "fields": [
        {"name": "propertyType", "type": "string"},
        {"name": "boolean", "type": ["null", "boolean"], "default": null},
        {"name": "byte", "type": ["null", "int"], "default": null},
        {"name": "short", "type": ["null", "int"], "default": null},
        {"name": "integer", "type": ["null", "int"], "default": null},
        {"name": "long", "type": ["null", "long"], "default": null},
        {"name": "float", "type": ["null", "float"], "default": null},
        {"name": "double", "type": ["null", "double"], "default": null},
        {"name": "string", "type": ["null", "string"], "default": null},
        {"name": "bytes", "type": ["null", "bytes"], "default": null}
      ]
    }}},
    {"name": "payloadText", "type": ["null", "string"], "default": null},
    {"name": "payloadMap", "type": ["null", {"type": "map", "values": "PropertyValue"}], "default": null},
    {"name": "payloadBytes", "type": ["null", "bytes"], "default": null}
  ]
}`

// AvroSchema is the Avro rendition of MessageSchema. Avro has no 8 or 16 bit
// integers, so byte and short properties travel as int.
var AvroSchema = avro.MustParse(avroMessageSchema)

type avroDestination struct {
	Type string `avro:"type"`
	Name string `avro:"name"`
}

type avroProperty struct {
	PropertyType string   `avro:"propertyType"`
	Boolean      *bool    `avro:"boolean"`
	Byte         *int32   `avro:"byte"`
	Short        *int32   `avro:"short"`
	Integer      *int32   `avro:"integer"`
	Long         *int64   `avro:"long"`
	Float        *float32 `avro:"float"`
	Double       *float64 `avro:"double"`
	String       *string  `avro:"string"`
	Bytes        []byte   `avro:"bytes"`
}

type avroMessage struct {
	MessageType   string                  `avro:"jmsMessageType"`
	MessageID     string                  `avro:"jmsMessageId"`
	Timestamp     int64                   `avro:"jmsTimestamp"`
	DeliveryMode  int32                   `avro:"jmsDeliveryMode"`
	CorrelationID *string                 `avro:"jmsCorrelationId"`
	ReplyTo       *avroDestination        `avro:"jmsReplyTo"`
	Destination   *avroDestination        `avro:"jmsDestination"`
	Redelivered   bool                    `avro:"jmsRedelivered"`
	Priority      *int32                  `avro:"jmsPriority"`
	Expiration    *int64                  `avro:"jmsExpiration"`
	Type          *string                 `avro:"jmsType"`
	RetryCount    int32                   `avro:"jmsRetry_count"`
	Properties    map[string]avroProperty `avro:"jmsProperties"`
	PayloadText   *string                 `avro:"payloadText"`
	PayloadMap    map[string]avroProperty `avro:"payloadMap"`
	PayloadBytes  []byte                  `avro:"payloadBytes"`
}

func toAvroProperty(p PropertyValue) avroProperty {
	out := avroProperty{PropertyType: p.Kind().String()}
	switch v := p.Native().(type) {
	case bool:
		out.Boolean = &v
	case int8:
		n := int32(v)
		out.Byte = &n
	case int16:
		n := int32(v)
		out.Short = &n
	case int32:
		out.Integer = &v
	case int64:
		out.Long = &v
	case float32:
		out.Float = &v
	case float64:
		out.Double = &v
	case string:
		out.String = &v
	case []byte:
		out.Bytes = v
	}
	return out
}

func toAvroProperties(props map[string]PropertyValue) map[string]avroProperty {
	out := make(map[string]avroProperty, len(props))
	for name, p := range props {
		out[name] = toAvroProperty(p)
	}
	return out
}

func toAvroDestination(d *Destination) *avroDestination {
	if d == nil {
		return nil
	}
	return &avroDestination{Type: d.Type, Name: d.Name}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalAvro encodes m with AvroSchema.
func (m *QueueMessage) MarshalAvro() ([]byte, error) {
	am := avroMessage{
		MessageType:   string(m.MessageType()),
		MessageID:     m.ID,
		Timestamp:     m.Timestamp,
		DeliveryMode:  m.DeliveryMode,
		CorrelationID: optionalString(m.CorrelationID),
		ReplyTo:       toAvroDestination(m.ReplyTo),
		Destination:   toAvroDestination(m.Destination),
		Redelivered:   m.Redelivered,
		Priority:      m.Priority,
		Expiration:    m.Expiration,
		Type:          optionalString(m.Type),
		RetryCount:    m.RetryCount,
		Properties:    toAvroProperties(m.Properties),
	}

	switch p := m.Payload.(type) {
	case BytesPayload:
		am.PayloadBytes = []byte(p)
		if am.PayloadBytes == nil {
			am.PayloadBytes = []byte{}
		}
	case TextPayload:
		s := string(p)
		am.PayloadText = &s
	case MapPayload:
		am.PayloadMap = toAvroProperties(p)
	default:
		return nil, fmt.Errorf("%w: payload %T", ErrUnsupportedMessageType, m.Payload)
	}

	return avro.Marshal(AvroSchema, am)
}
