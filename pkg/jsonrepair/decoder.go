// Package jsonrepair decodes webhook bodies and recovers the malformed JSON
// emitted by the form platform's outbound HTTP client.
//
// Decoding is always attempted strictly first. Only bodies rejected with a
// syntax error go through a single line-oriented repair pass, and the
// repaired text is accepted only if it then passes the same strict decode.
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// Payload is a decoded JSON object. Numbers are kept as json.Number.
type Payload map[string]interface{}

// Result is the outcome of a successful Parse.
type Result struct {
	Payload Payload
	// Repaired reports whether the payload came from the repair pass.
	Repaired bool
	// Text is the repaired text when Repaired is set.
	Text string
}

// Decoder runs the strict decode, repair and verify steps.
type Decoder struct {
	// DisableRepair rejects malformed bodies without attempting a repair.
	DisableRepair bool
}

// Decode is the strict decoder. It accepts exactly one JSON object.
func Decode(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	object, ok := value.(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	return Payload(object), nil
}

// Verify re-runs the strict decoder on repaired text.
func Verify(repaired string) (Payload, error) {
	payload, err := Decode([]byte(repaired))
	if err != nil {
		return nil, &Error{Category: CategoryRepairFailed, Err: err}
	}
	return payload, nil
}

// Parse decodes raw, falling back to one repair pass when the strict decode
// fails. Every returned error is an *Error.
func (d Decoder) Parse(raw []byte) (*Result, error) {
	if !utf8.Valid(raw) {
		return nil, &Error{Category: CategoryUTF8, Err: ErrInvalidUTF8}
	}

	payload, err := Decode(raw)
	if err == nil {
		return &Result{Payload: payload}, nil
	}
	if d.DisableRepair || errors.Is(err, ErrNotObject) {
		return nil, &Error{Category: CategoryDecode, Err: err}
	}

	repaired := Repair(string(raw))
	payload, err = Verify(repaired)
	if err != nil {
		return nil, err
	}
	return &Result{Payload: payload, Repaired: true, Text: repaired}, nil
}

// Parse runs the default Decoder.
func Parse(raw []byte) (*Result, error) {
	return Decoder{}.Parse(raw)
}
