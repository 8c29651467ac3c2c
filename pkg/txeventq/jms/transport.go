package jms

import (
	"fmt"
	"strconv"
)

// Properties the queue producer sets on every bytes message it enqueues.
const (
	PropMessageVersion = "AQINTERNAL_MESSAGEVERSION"
	PropHeaderCount    = "AQINTERNAL_HEADERCOUNT"
)

// Properties set when Kafka metadata is copied onto enqueued messages.
const (
	PropKafkaTopic     = "KAFKA_TOPIC"
	PropKafkaPartition = "KAFKA_PARTITION"
	PropKafkaOffset    = "KAFKA_OFFSET"
	PropKafkaTimestamp = "KAFKA_TIMESTAMP"
)

// JMS delivery modes
const (
	NonPersistent int32 = 1
	Persistent    int32 = 2
)

// Destination kinds
const (
	DestinationQueue = "queue"
	DestinationTopic = "topic"
)

// Destination identifies a queue or topic.
type Destination struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Body is the content of a transport message. BytesBody, TextBody and
// MapBody are the shapes this package can translate; any other
// implementation is rejected by FromTransport.
type Body interface {
	Shape() string
}

type BytesBody []byte

func (BytesBody) Shape() string { return "bytes" }

type TextBody string

func (TextBody) Shape() string { return "text" }

// MapBody holds named native values, each classified with FromNative.
type MapBody map[string]any

func (MapBody) Shape() string { return "map" }

// Transport is a message as handed over by the dequeue side of the queue.
// Empty strings and nil pointers denote absent optional metadata.
type Transport struct {
	MessageID     string
	CorrelationID string
	Timestamp     int64
	DeliveryMode  int32
	Redelivered   bool
	Priority      *int32
	Expiration    *int64
	Type          string
	ReplyTo       *Destination
	Destination   *Destination
	// Attempts is the transport's own redelivery counter.
	Attempts   int32
	Properties map[string]any
	Body       Body
}

// PayloadVersion distinguishes a single-blob bytes payload (1) from a framed
// key/value/headers payload (2).
type PayloadVersion int

const (
	PayloadV1 PayloadVersion = 1
	PayloadV2 PayloadVersion = 2
)

func (v PayloadVersion) Valid() bool {
	return v == PayloadV1 || v == PayloadV2
}

// MessageVersion reads PropMessageVersion from props. Messages without the
// property predate framing and are version 1.
func MessageVersion(props map[string]any) (PayloadVersion, error) {
	raw, ok := props[PropMessageVersion]
	if !ok || raw == nil {
		return PayloadV1, nil
	}
	n, err := intProperty(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", PropMessageVersion, err)
	}
	v := PayloadVersion(n)
	if !v.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedPayloadVersion, n)
	}
	return v, nil
}

// HeaderCount reads PropHeaderCount from props; absent means no headers.
func HeaderCount(props map[string]any) (uint32, error) {
	raw, ok := props[PropHeaderCount]
	if !ok || raw == nil {
		return 0, nil
	}
	n, err := intProperty(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", PropHeaderCount, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative count %d", PropHeaderCount, n)
	}
	return uint32(n), nil
}

// intProperty accepts the integer forms a JMS int property may take after a
// trip through a driver.
func intProperty(v any) (int64, error) {
	switch x := v.(type) {
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 32)
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedPropertyType, v)
	}
}
