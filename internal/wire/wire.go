// Package wire encodes and decodes the JSON text frames exchanged with the
// engine. Inbound envelopes are validated against embedded JSON Schemas
// before they reach the channel.
package wire

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/ghostbridge/internal/ir"
)

//go:embed incoming.schema.json
var incomingSchemaJSON []byte

//go:embed outgoing.schema.json
var outgoingSchemaJSON []byte

const (
	incomingSchemaURL = "https://ghostbridge.dev/schemas/incoming.schema.json"
	outgoingSchemaURL = "https://ghostbridge.dev/schemas/outgoing.schema.json"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed frame")

var (
	schemasOnce    sync.Once
	incomingSchema *jsonschema.Schema
	outgoingSchema *jsonschema.Schema
	schemasErr     error
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(incomingSchemaURL, bytes.NewReader(incomingSchemaJSON)); err != nil {
			schemasErr = fmt.Errorf("add incoming schema: %w", err)
			return
		}
		if err := compiler.AddResource(outgoingSchemaURL, bytes.NewReader(outgoingSchemaJSON)); err != nil {
			schemasErr = fmt.Errorf("add outgoing schema: %w", err)
			return
		}
		if incomingSchema, schemasErr = compiler.Compile(incomingSchemaURL); schemasErr != nil {
			return
		}
		outgoingSchema, schemasErr = compiler.Compile(outgoingSchemaURL)
	})
	return schemasErr
}

// DecodeIncoming parses and validates a broadcast frame.
// A missing or null eventId decodes to ir.NoMutation.
func DecodeIncoming(frame []byte) (ir.IncomingEvent, error) {
	obj, err := decodeEnvelope(frame, func() *jsonschema.Schema { return incomingSchema })
	if err != nil {
		return ir.IncomingEvent{}, err
	}
	name, _ := obj.String("name")
	return ir.IncomingEvent{
		Name:    name,
		EventID: ir.MutationIDFrom(obj["eventId"]),
		Params:  obj["params"],
	}, nil
}

// DecodeOutgoing parses and validates an event frame sent by a client.
// The mutation id is not part of the envelope and is left unset.
func DecodeOutgoing(frame []byte) (ir.OutgoingEvent, error) {
	obj, err := decodeEnvelope(frame, func() *jsonschema.Schema { return outgoingSchema })
	if err != nil {
		return ir.OutgoingEvent{}, err
	}
	name, _ := obj.String("name")
	return ir.OutgoingEvent{Name: name, Params: obj["params"]}, nil
}

func decodeEnvelope(frame []byte, schema func() *jsonschema.Schema) (ir.IRObject, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	doc, err := decodeJSON(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema().Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	v, err := ir.FromGo(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("%w: envelope is %s", ErrMalformed, ir.Kind(v))
	}
	return obj, nil
}

// decodeJSON reads exactly one JSON document with numbers kept as
// json.Number, the form the schema validator expects.
func decodeJSON(frame []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after envelope")
	}
	return doc, nil
}

// EncodeOutgoing renders {"name":…,"params":…}. Params are omitted when nil.
func EncodeOutgoing(ev ir.OutgoingEvent) ([]byte, error) {
	env := ir.IRObject{"name": ir.IRString(ev.Name)}
	if ev.Params != nil {
		env["params"] = ev.Params
	}
	data, err := ir.MarshalIRValue(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return data, nil
}

// EncodeIncoming renders {"name":…,"eventId":…,"params":…}. The eventId is
// null when the broadcast reflects no client mutation.
func EncodeIncoming(ev ir.IncomingEvent) ([]byte, error) {
	env := ir.IRObject{
		"name":    ir.IRString(ev.Name),
		"eventId": ev.EventID.Value(),
	}
	if ev.Params != nil {
		env["params"] = ev.Params
	}
	data, err := ir.MarshalIRValue(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return data, nil
}
