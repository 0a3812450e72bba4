package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"
)

// metaFields are stripped from every payload; they describe the record, not its data.
var metaFields = []string{"id", "__createdtime__", "__updatedtime__"}

// Normalize decodes, classifies and normalizes one raw message into a Mutation.
// Table is left empty when neither the envelope nor the transport names one.
func Normalize(msg RawMessage) (Mutation, error) {
	env, err := Decode(msg)
	if err != nil {
		return Mutation{}, err
	}

	c, err := Classify(env)
	if err != nil {
		return Mutation{}, &DecodeError{Err: err}
	}

	return Build(c, msg)
}

// Decode parses the message bytes into an untyped JSON value. Numbers are kept as
// json.Number so that numeric ids survive unchanged. An empty body decodes as {}.
// Invalid UTF-8 and numbers outside the float64 range are rejected.
func Decode(msg RawMessage) (any, error) {
	if err := checkContentType(msg.ContentType); err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(msg.Bytes)
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	if !utf8.Valid(body) {
		return nil, decodeErrorf("invalid JSON: body is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, decodeErrorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, decodeErrorf("invalid JSON: trailing data after top-level value")
	}
	if err := checkNumbers(v); err != nil {
		return nil, err
	}
	return v, nil
}

// checkNumbers fails on the first number that does not fit a float64.
func checkNumbers(v any) error {
	switch t := v.(type) {
	case json.Number:
		if _, err := t.Float64(); err != nil {
			return decodeErrorf("invalid number %s: out of range", t)
		}
	case map[string]any:
		for _, e := range t {
			if err := checkNumbers(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkNumbers(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Build turns a classification into a Mutation, resolving the target from the
// envelope first and the transport hint last.
func Build(c Classification, msg RawMessage) (Mutation, error) {
	target := c.Target
	if target == "" {
		target = idString(c.Payload["id"])
	}
	if target == "" {
		target = msg.TargetHint
	}
	if target == "" {
		return Mutation{}, fmt.Errorf("%w in %s envelope", ErrMissingTarget, c.Shape)
	}

	op := c.Operation
	if op == OpUnknown {
		op = msg.OperationHint
	}
	if op == OpUnknown {
		op = OpPut
	}

	table := c.Table
	if table == "" {
		table = msg.Table
	}

	fields := make(map[string]any, len(c.Payload))
	for k, v := range c.Payload {
		fields[k] = coerce(v)
	}
	for _, k := range metaFields {
		delete(fields, k)
	}

	if len(fields) == 0 && op != OpDelete {
		return Mutation{}, fmt.Errorf("%w for target %s", ErrEmptyPayload, target)
	}

	return Mutation{
		TargetID:  target,
		Table:     table,
		Fields:    fields,
		Operation: op,
		Shape:     c.Shape,
	}, nil
}

// coerce converts json.Number values to float64 at any depth, leaving every
// other value as decoded. Decode has already rejected numbers that overflow.
func coerce(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = coerce(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = coerce(e)
		}
		return out
	default:
		return v
	}
}

func checkContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return decodeErrorf("content type %q: %w", contentType, err)
	}
	switch {
	case mediaType == "application/json",
		mediaType == "text/plain",
		mediaType == "text/json",
		mediaType == "application/octet-stream",
		strings.HasSuffix(mediaType, "+json"):
		return nil
	default:
		return decodeErrorf("unsupported content type %q", mediaType)
	}
}
