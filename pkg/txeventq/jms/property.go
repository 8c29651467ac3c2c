package jms

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
)

var ErrUnsupportedPropertyType = errors.New("unsupported property type")

// Kind is the tag of a PropertyValue.
type Kind uint8

const (
	KindNull Kind = iota
	KindBoolean
	KindByte
	KindShort
	KindInteger
	KindLong
	KindFloat
	KindDouble
	KindString
	KindBytes
)

var kindNames = [...]string{
	KindNull:    "null",
	KindBoolean: "boolean",
	KindByte:    "byte",
	KindShort:   "short",
	KindInteger: "integer",
	KindLong:    "long",
	KindFloat:   "float",
	KindDouble:  "double",
	KindString:  "string",
	KindBytes:   "bytes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// PropertyValue is a JMS property or map-message entry. The zero value is a
// null property.
//
// Numeric values are held as raw bits so that every width, including NaN
// payloads of floats, survives a round trip unchanged.
type PropertyValue struct {
	kind  Kind
	bits  uint64
	str   string
	bytes []byte
}

func Null() PropertyValue { return PropertyValue{} }

func Bool(v bool) PropertyValue {
	p := PropertyValue{kind: KindBoolean}
	if v {
		p.bits = 1
	}
	return p
}

func Byte(v int8) PropertyValue   { return PropertyValue{kind: KindByte, bits: uint64(v)} }
func Short(v int16) PropertyValue { return PropertyValue{kind: KindShort, bits: uint64(v)} }
func Int(v int32) PropertyValue   { return PropertyValue{kind: KindInteger, bits: uint64(v)} }
func Long(v int64) PropertyValue  { return PropertyValue{kind: KindLong, bits: uint64(v)} }

func Float(v float32) PropertyValue {
	return PropertyValue{kind: KindFloat, bits: uint64(math.Float32bits(v))}
}

func Double(v float64) PropertyValue {
	return PropertyValue{kind: KindDouble, bits: math.Float64bits(v)}
}

func String(v string) PropertyValue { return PropertyValue{kind: KindString, str: v} }

// Bytes copies v. A nil slice is kept as an empty byte array, not null.
func Bytes(v []byte) PropertyValue {
	b := slices.Clone(v)
	if b == nil {
		b = []byte{}
	}
	return PropertyValue{kind: KindBytes, bytes: b}
}

// FromNative classifies a Go scalar. Only the fixed-width types that have a
// JMS counterpart are accepted; int, unsigned integers and composites are
// rejected with ErrUnsupportedPropertyType.
func FromNative(v any) (PropertyValue, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int8:
		return Byte(x), nil
	case int16:
		return Short(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Long(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Double(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	default:
		return PropertyValue{}, fmt.Errorf("%w: %T", ErrUnsupportedPropertyType, v)
	}
}

func (p PropertyValue) Kind() Kind { return p.kind }

func (p PropertyValue) IsNull() bool { return p.kind == KindNull }

// Native returns the Go value p was built from.
func (p PropertyValue) Native() any {
	switch p.kind {
	case KindBoolean:
		return p.bits == 1
	case KindByte:
		return int8(p.bits)
	case KindShort:
		return int16(p.bits)
	case KindInteger:
		return int32(p.bits)
	case KindLong:
		return int64(p.bits)
	case KindFloat:
		return math.Float32frombits(uint32(p.bits))
	case KindDouble:
		return math.Float64frombits(p.bits)
	case KindString:
		return p.str
	case KindBytes:
		return slices.Clone(p.bytes)
	default:
		return nil
	}
}

// Equal reports whether p and o have the same kind and identical bits.
func (p PropertyValue) Equal(o PropertyValue) bool {
	return p.kind == o.kind && p.bits == o.bits && p.str == o.str && slices.Equal(p.bytes, o.bytes)
}

func (p PropertyValue) String() string {
	switch p.kind {
	case KindNull:
		return "null"
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(p.bytes))
	default:
		return fmt.Sprintf("%s(%v)", p.kind, p.Native())
	}
}

// PropertyValueSchema is the structured form of a PropertyValue: the kind
// name plus one optional field per kind, of which at most one is set.
var PropertyValueSchema = record.Schema{
	Type:    record.TypeStruct,
	Name:    "PropertyValue",
	Version: 1,
	Fields: []record.Field{
		{Field: "propertyType", Type: record.TypeString},
		{Field: "boolean", Type: record.TypeBoolean, Optional: true},
		{Field: "byte", Type: record.TypeInt8, Optional: true},
		{Field: "short", Type: record.TypeInt16, Optional: true},
		{Field: "integer", Type: record.TypeInt32, Optional: true},
		{Field: "long", Type: record.TypeInt64, Optional: true},
		{Field: "float", Type: record.TypeFloat32, Optional: true},
		{Field: "double", Type: record.TypeFloat64, Optional: true},
		{Field: "string", Type: record.TypeString, Optional: true},
		{Field: "bytes", Type: record.TypeBytes, Optional: true},
	},
}

// Struct projects p into PropertyValueSchema.
func (p PropertyValue) Struct() *record.Struct {
	s := record.NewStruct(PropertyValueSchema).Put("propertyType", p.kind.String())
	if p.kind != KindNull {
		s.Put(p.kind.String(), p.Native())
	}
	return s
}

func propertyStructs(props map[string]PropertyValue) map[string]*record.Struct {
	out := make(map[string]*record.Struct, len(props))
	for name, p := range props {
		out[name] = p.Struct()
	}
	return out
}
