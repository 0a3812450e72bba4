package ingest

import (
	"strings"
)

// Transport identifies the channel a message arrived on.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportMQTT Transport = "mqtt"
	TransportWS   Transport = "ws"
	TransportSSE  Transport = "sse"
)

// Operation is the kind of change a mutation applies to a record.
type Operation string

const (
	OpUnknown Operation = ""
	OpPut     Operation = "put"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
)

// ParseOperation maps a verb from any of the accepted envelope vocabularies
// (HTTP methods, legacy transaction operations, type/action words) to an Operation.
func ParseOperation(verb string) (Operation, bool) {
	switch strings.ToLower(strings.TrimSpace(verb)) {
	case "put", "insert", "upsert", "create", "post", "publish":
		return OpPut, true
	case "update", "patch":
		return OpUpdate, true
	case "delete", "remove":
		return OpDelete, true
	default:
		return OpUnknown, false
	}
}

// RawMessage is one inbound message as a transport delivered it.
type RawMessage struct {
	Transport Transport
	// TargetHint is the record id implied by the transport (URL path or MQTT topic).
	TargetHint string
	// Table is the resource name implied by the transport, e.g. "Sensors".
	Table       string
	ContentType string
	Bytes       []byte
	// OperationHint is the operation implied by the transport itself (HTTP PATCH, DELETE).
	// Only the plain record shape uses it.
	OperationHint Operation
	// Ephemeral messages are broadcast to subscribers but never written to storage.
	Ephemeral bool
}

// Mutation is the transport independent form of "write these fields to this target".
type Mutation struct {
	TargetID  string         `json:"id"`
	Table     string         `json:"table,omitempty"`
	Fields    map[string]any `json:"fields"`
	Operation Operation      `json:"operation"`
	Shape     Shape          `json:"shape,omitempty"`
}

// Clone returns a copy of m whose Fields map can be modified independently.
func (m Mutation) Clone() Mutation {
	fields := make(map[string]any, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	m.Fields = fields
	return m
}

// Key identifies the record a mutation targets, in the "table/id" form used by
// topics and subscriptions.
func (m Mutation) Key() string {
	return Key(m.Table, m.TargetID)
}

// Key joins a table and a record id.
func Key(table, id string) string {
	return table + "/" + id
}
