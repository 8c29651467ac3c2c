package record

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Schema types
const (
	TypeStruct  = "struct"
	TypeMap     = "map"
	TypeString  = "string"
	TypeBoolean = "boolean"
	TypeInt8    = "int8"
	TypeInt16   = "int16"
	TypeInt32   = "int32"
	TypeInt64   = "int64"
	TypeFloat32 = "float"
	TypeFloat64 = "double"
	TypeBytes   = "bytes"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidStruct = errors.New("invalid struct")
)

// Field is a named member of a struct schema
type Field struct {
	Field    string  `json:"field"`
	Type     string  `json:"type"`
	Optional bool    `json:"optional"`
	Name     string  `json:"name,omitempty"`
	Version  int     `json:"version,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
	Keys     *Schema `json:"keys,omitempty"`
	Values   *Schema `json:"values,omitempty"`
}

// Schema describes a struct, map or primitive value, in the layout used by
// the Kafka Connect JSON converter.
type Schema struct {
	Type     string  `json:"type"`
	Optional bool    `json:"optional"`
	Name     string  `json:"name,omitempty"`
	Version  int     `json:"version,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
	Keys     *Schema `json:"keys,omitempty"`
	Values   *Schema `json:"values,omitempty"`
}

// AsField returns s as a field of a parent struct.
func (s Schema) AsField(name string) Field {
	return Field{
		Field:    name,
		Type:     s.Type,
		Optional: s.Optional,
		Name:     s.Name,
		Version:  s.Version,
		Fields:   s.Fields,
		Keys:     s.Keys,
		Values:   s.Values,
	}
}

// OptionalCopy returns a copy of s marked optional.
func (s Schema) OptionalCopy() Schema {
	s.Optional = true
	return s
}

func (s Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Field == name {
			return f, true
		}
	}
	return Field{}, false
}

// Struct is a value conforming to a struct Schema. Fields that were never
// set are omitted on output.
type Struct struct {
	schema Schema
	values map[string]any
}

func NewStruct(schema Schema) *Struct {
	return &Struct{schema: schema, values: make(map[string]any, len(schema.Fields))}
}

// Schema returns the schema s was built with.
func (s *Struct) Schema() Schema {
	return s.schema
}

// Put sets a field value. A nil value removes the field.
func (s *Struct) Put(name string, value any) *Struct {
	if value == nil {
		delete(s.values, name)
		return s
	}
	s.values[name] = value
	return s
}

// Get returns the value of a field and whether it is set.
func (s *Struct) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Validate checks that every set field is declared and that every required
// field is set.
func (s *Struct) Validate() error {
	if s.schema.Type != TypeStruct {
		return fmt.Errorf("%w: schema type %q", ErrInvalidStruct, s.schema.Type)
	}
	for name := range s.values {
		if _, ok := s.schema.field(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.schema.Name, name)
		}
	}
	for _, f := range s.schema.Fields {
		if _, ok := s.values[f.Field]; !ok && !f.Optional {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, s.schema.Name, f.Field)
		}
	}
	return nil
}

// MarshalJSON writes the set fields only.
func (s *Struct) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// Envelope is the schema+payload pair emitted by the JSON converter when
// schemas are enabled.
type Envelope struct {
	Schema  Schema  `json:"schema"`
	Payload *Struct `json:"payload"`
}

// NewEnvelope wraps s with its schema.
func NewEnvelope(s *Struct) Envelope {
	return Envelope{Schema: s.Schema(), Payload: s}
}
