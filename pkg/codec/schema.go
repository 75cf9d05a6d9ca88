package codec

import (
	"bytes"
	"errors"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "mem://schema.json"

// ErrSchema marks values rejected by a Validated codec.
var ErrSchema = errors.New("codec: schema violation")

// Validated wraps a JSON-producing codec and checks every encoded document
// against a JSON schema, on the way in and on the way out.
type Validated[T any] struct {
	inner  Codec[T]
	schema *jsonschema.Schema
}

// WithSchema compiles schema and returns a codec validating through it.
func WithSchema[T any](inner Codec[T], schema []byte) (*Validated[T], error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("codec: parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("codec: add schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("codec: compile schema: %w", err)
	}
	return &Validated[T]{inner: inner, schema: sch}, nil
}

func (v *Validated[T]) Encode(val T) ([]byte, error) {
	b, err := v.inner.Encode(val)
	if err != nil {
		return nil, err
	}
	if err := v.validate(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (v *Validated[T]) Decode(b []byte) (T, error) {
	if err := v.validate(b); err != nil {
		var zero T
		return zero, err
	}
	return v.inner.Decode(b)
}

func (v *Validated[T]) validate(b []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
