package jms

import (
	"errors"
	"fmt"
	"slices"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

var (
	ErrUnsupportedMessageType    = errors.New("unsupported message type")
	ErrUnsupportedPayloadVersion = errors.New("unsupported payload version")
)

// MessageType names the payload variant of a QueueMessage.
type MessageType string

const (
	MessageBytes MessageType = "bytes"
	MessageText  MessageType = "text"
	MessageMap   MessageType = "map"
)

// Payload is one of BytesPayload, TextPayload or MapPayload.
type Payload interface {
	messageType() MessageType
}

type BytesPayload []byte

type TextPayload string

type MapPayload map[string]PropertyValue

func (BytesPayload) messageType() MessageType { return MessageBytes }
func (TextPayload) messageType() MessageType  { return MessageText }
func (MapPayload) messageType() MessageType   { return MessageMap }

// QueueMessage is the uniform form of a dequeued JMS message.
type QueueMessage struct {
	ID            string
	CorrelationID string
	Timestamp     int64
	DeliveryMode  int32
	Redelivered   bool
	Priority      *int32
	Expiration    *int64
	Type          string
	ReplyTo       *Destination
	Destination   *Destination
	RetryCount    int32
	Properties    map[string]PropertyValue
	Payload       Payload
}

// MessageType returns the payload variant, or "" if no payload is set.
func (m *QueueMessage) MessageType() MessageType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.messageType()
}

// clonePtr copies *p so a message never shares state with its transport.
func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FromTransport translates a dequeued message.
//
// For bytes messages the payload depends on version: with PayloadV1 it is
// the message body; with PayloadV2 the body is a framed payload and raw must
// carry the value already extracted from it. raw is ignored for other
// shapes. On error no message is returned.
func FromTransport(msg *Transport, version PayloadVersion, raw []byte) (*QueueMessage, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: <nil>", ErrUnsupportedMessageType)
	}

	props, err := nativeProperties(msg.Properties)
	if err != nil {
		return nil, err
	}

	m := &QueueMessage{
		ID:            msg.MessageID,
		CorrelationID: msg.CorrelationID,
		Timestamp:     msg.Timestamp,
		DeliveryMode:  msg.DeliveryMode,
		Redelivered:   msg.Redelivered,
		Priority:      clonePtr(msg.Priority),
		Expiration:    clonePtr(msg.Expiration),
		Type:          msg.Type,
		ReplyTo:       clonePtr(msg.ReplyTo),
		Destination:   clonePtr(msg.Destination),
		RetryCount:    msg.Attempts,
		Properties:    props,
	}

	switch body := msg.Body.(type) {
	case BytesBody:
		var b []byte
		switch version {
		case PayloadV2:
			b = raw
		case PayloadV1:
			b = body
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayloadVersion, version)
		}
		b = slices.Clone(b)
		if b == nil {
			b = []byte{}
		}
		m.Payload = BytesPayload(b)
	case TextBody:
		m.Payload = TextPayload(body)
	case MapBody:
		entries := make(MapPayload, len(body))
		for name, v := range body {
			p, err := FromNative(v)
			if err != nil {
				return nil, fmt.Errorf("map entry %q: %w", name, err)
			}
			entries[name] = p
		}
		m.Payload = entries
	case nil:
		return nil, fmt.Errorf("%w: message %s has no body", ErrUnsupportedMessageType, msg.MessageID)
	default:
		return nil, fmt.Errorf("%w: %T (%s)", ErrUnsupportedMessageType, body, body.Shape())
	}

	return m, nil
}

// nativeProperties classifies every property, dropping null ones.
func nativeProperties(in map[string]any) (map[string]PropertyValue, error) {
	out := make(map[string]PropertyValue, len(in))
	for name, v := range in {
		if v == nil {
			continue
		}
		p, err := FromNative(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// DestinationSchema is the structured form of a Destination.
var DestinationSchema = record.Schema{
	Type:     record.TypeStruct,
	Name:     "JMSDestination",
	Version:  1,
	Optional: true,
	Fields: []record.Field{
		{Field: "type", Type: record.TypeString},
		{Field: "name", Type: record.TypeString},
	},
}

var propertyMapSchema = record.Schema{
	Type:   record.TypeMap,
	Keys:   &record.Schema{Type: record.TypeString},
	Values: &PropertyValueSchema,
}

// MessageSchema is the structured form of a QueueMessage.
var MessageSchema = record.Schema{
	Type:    record.TypeStruct,
	Name:    "JMSMessage",
	Version: 1,
	Fields: []record.Field{
		{Field: "jmsMessageType", Type: record.TypeString},
		{Field: "jmsMessageId", Type: record.TypeString},
		{Field: "jmsTimestamp", Type: record.TypeInt64},
		{Field: "jmsDeliveryMode", Type: record.TypeInt32},
		{Field: "jmsCorrelationId", Type: record.TypeString, Optional: true},
		DestinationSchema.AsField("jmsReplyTo"),
		DestinationSchema.AsField("jmsDestination"),
		{Field: "jmsRedelivered", Type: record.TypeBoolean},
		{Field: "jmsPriority", Type: record.TypeInt32, Optional: true},
		{Field: "jmsExpiration", Type: record.TypeInt64, Optional: true},
		{Field: "jmsType", Type: record.TypeString, Optional: true},
		{Field: "jmsRetry_count", Type: record.TypeInt32},
		propertyMapSchema.AsField("jmsProperties"),
		{Field: "payloadText", Type: record.TypeString, Optional: true},
		propertyMapSchema.OptionalCopy().AsField("payloadMap"),
		{Field: "payloadBytes", Type: record.TypeBytes, Optional: true},
	},
}

func destinationStruct(d *Destination) *record.Struct {
	return record.NewStruct(DestinationSchema).Put("type", d.Type).Put("name", d.Name)
}

// Struct projects m into MessageSchema. Exactly one payload field is set and
// absent optional metadata is left out.
func (m *QueueMessage) Struct() (*record.Struct, error) {
	s := record.NewStruct(MessageSchema).
		Put("jmsMessageId", m.ID).
		Put("jmsTimestamp", m.Timestamp).
		Put("jmsDeliveryMode", m.DeliveryMode).
		Put("jmsRedelivered", m.Redelivered).
		Put("jmsRetry_count", m.RetryCount).
		Put("jmsProperties", propertyStructs(m.Properties))

	switch p := m.Payload.(type) {
	case BytesPayload:
		s.Put("payloadBytes", []byte(p))
	case TextPayload:
		s.Put("payloadText", string(p))
	case MapPayload:
		s.Put("payloadMap", propertyStructs(p))
	default:
		return nil, fmt.Errorf("%w: payload %T", ErrUnsupportedMessageType, m.Payload)
	}
	s.Put("jmsMessageType", string(m.MessageType()))

	if m.CorrelationID != "" {
		s.Put("jmsCorrelationId", m.CorrelationID)
	}
	if m.Priority != nil {
		s.Put("jmsPriority", *m.Priority)
	}
	if m.Expiration != nil {
		s.Put("jmsExpiration", *m.Expiration)
	}
	if m.Type != "" {
		s.Put("jmsType", m.Type)
	}
	if m.ReplyTo != nil {
		s.Put("jmsReplyTo", destinationStruct(m.ReplyTo))
	}
	if m.Destination != nil {
		s.Put("jmsDestination", destinationStruct(m.Destination))
	}
	return s, nil
}
