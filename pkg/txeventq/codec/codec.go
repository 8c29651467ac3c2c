// Package codec implements the length-prefixed binary frame that carries a
// Kafka record's key, value and headers inside a single JMS bytes message.
//
// Every field is written as a 4-byte big-endian length followed by the raw
// bytes:
//
//	[key length][key][value length][value]
//	{[header name length][header name][header value length][header value]}*
//
// The number of header pairs is not part of the stream. Producers store it
// in the AQINTERNAL_HEADERCOUNT message property and Decode takes it as an
// explicit argument.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LengthSize is the width of every length prefix in a frame.
const LengthSize = 4

var (
	ErrMalformedLength = errors.New("malformed length: fewer than 4 bytes")
	ErrTruncatedFrame  = errors.New("truncated frame")
)

// PutLength encodes n as 4 big-endian bytes.
func PutLength(n uint32) [LengthSize]byte {
	var b [LengthSize]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b
}

// AppendLength appends the big-endian encoding of n to dst.
func AppendLength(dst []byte, n uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, n)
}

// Length decodes the first 4 bytes of b as a big-endian uint32.
func Length(b []byte) (uint32, error) {
	if len(b) < LengthSize {
		return 0, fmt.Errorf("%w: got %d", ErrMalformedLength, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// Header is a single Kafka record header. Order is preserved on the wire.
type Header struct {
	Name  string
	Value []byte
}

// Frame is the decoded content of a framed payload.
//
// Key and Value are nil when their length prefix is 0: an empty key or value
// is indistinguishable from an absent one on the wire and always decodes as
// absent.
type Frame struct {
	Key     []byte
	Value   []byte
	Headers []Header
}

// Encode builds a framed payload. A nil key or value is written with length 0.
func Encode(key, value []byte, headers []Header) []byte {
	size := 2*LengthSize + len(key) + len(value)
	for _, h := range headers {
		size += 2*LengthSize + len(h.Name) + len(h.Value)
	}

	buf := make([]byte, 0, size)
	buf = appendField(buf, key)
	buf = appendField(buf, value)
	for _, h := range headers {
		buf = appendField(buf, []byte(h.Name))
		buf = appendField(buf, h.Value)
	}
	return buf
}

func appendField(dst, field []byte) []byte {
	dst = AppendLength(dst, uint32(len(field)))
	return append(dst, field...)
}

// Decode parses raw, reading the key, the value and exactly headerCount
// header pairs. Bytes following the last header are ignored.
//
// Decode never returns partial data: if any declared length runs past the
// end of raw the whole frame is rejected with ErrTruncatedFrame.
func Decode(raw []byte, headerCount uint32) (Frame, error) {
	r := reader{buf: raw}

	key, err := r.field("key")
	if err != nil {
		return Frame{}, err
	}
	value, err := r.field("value")
	if err != nil {
		return Frame{}, err
	}

	// each pair needs at least two length prefixes; cap the preallocation so
	// a bogus count cannot force a huge allocation
	capHint := min(uint64(headerCount), uint64(r.remaining()/(2*LengthSize)))
	headers := make([]Header, 0, capHint)
	for i := uint32(0); i < headerCount; i++ {
		name, err := r.field(fmt.Sprintf("header[%d] name", i))
		if err != nil {
			return Frame{}, err
		}
		hv, err := r.field(fmt.Sprintf("header[%d] value", i))
		if err != nil {
			return Frame{}, err
		}
		if hv == nil {
			hv = []byte{}
		}
		headers = append(headers, Header{Name: string(name), Value: hv})
	}

	return Frame{
		Key:     absentIfEmpty(key),
		Value:   absentIfEmpty(value),
		Headers: headers,
	}, nil
}

func absentIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// field reads one length-prefixed field and returns a copy of its bytes.
func (r *reader) field(what string) ([]byte, error) {
	n, err := Length(r.buf[r.off:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s length at offset %d: %w", ErrTruncatedFrame, what, r.off, err)
	}
	r.off += LengthSize

	if uint64(n) > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %s declares %d bytes, %d remain", ErrTruncatedFrame, what, n, r.remaining())
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}
