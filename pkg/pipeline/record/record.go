// Package record defines the unit of data that flows through a pipeline: a
// Kafka-shaped record plus a small Connect-style schema/struct model used
// when a queue message is projected into a structured value.
package record

import (
	"slices"
	"time"
)

// Header is a single record header.
type Header struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Record is a Kafka record as seen by a pipeline. Key and Value are nil when
// absent.
type Record struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Value     []byte    `json:"value,omitempty"`
	Headers   []Header  `json:"headers,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LastHeader returns the last header named key.
func (r *Record) LastHeader(key string) (Header, bool) {
	for i := len(r.Headers) - 1; i >= 0; i-- {
		if r.Headers[i].Key == key {
			return r.Headers[i], true
		}
	}
	return Header{}, false
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Key = slices.Clone(r.Key)
	out.Value = slices.Clone(r.Value)
	if r.Headers != nil {
		out.Headers = make([]Header, len(r.Headers))
		for i, h := range r.Headers {
			out.Headers[i] = Header{Key: h.Key, Value: slices.Clone(h.Value)}
		}
	}
	return out
}

// Builder helps construct records
type Builder struct {
	record Record
}

func NewBuilder(topic string) *Builder {
	return &Builder{
		record: Record{
			Topic:     topic,
			Partition: -1,
			Offset:    -1,
		},
	}
}

func (b *Builder) WithPartition(partition int32) *Builder {
	b.record.Partition = partition
	return b
}

func (b *Builder) WithOffset(offset int64) *Builder {
	b.record.Offset = offset
	return b
}

func (b *Builder) WithKey(key []byte) *Builder {
	b.record.Key = key
	return b
}

func (b *Builder) WithValue(value []byte) *Builder {
	b.record.Value = value
	return b
}

func (b *Builder) WithHeader(key string, value []byte) *Builder {
	b.record.Headers = append(b.record.Headers, Header{Key: key, Value: value})
	return b
}

func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	b.record.Timestamp = ts
	return b
}

func (b *Builder) Build() Record {
	return b.record
}
