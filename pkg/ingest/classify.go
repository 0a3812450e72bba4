package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Shape is one of the recognized envelope layouts.
type Shape string

const (
	ShapeTransaction     Shape = "transaction"      // {operation, [schema,] table, records}
	ShapeOperation       Shape = "operation"        // {operation, table, [id,] data}
	ShapeHDBTransaction  Shape = "hdb_transaction"  // {type: "HDB_TRANSACTION", transaction}
	ShapeTypeValue       Shape = "type_value"       // {type, value, [id]}
	ShapeActionData      Shape = "action_data"      // {action, data}
	ShapeMethodBody      Shape = "method_body"      // {method, body|data, [headers, path, url]}
	ShapeVerbURI         Shape = "verb_uri"         // {verb, uri, body}
	ShapeRequestResource Shape = "request_resource" // {request, resource, payload}
	ShapeMetadata        Shape = "metadata"         // {metadata: {method, resource}, payload}
	ShapePlain           Shape = "plain"
)

// Classification is what the classifier extracted from an envelope. Operation is
// OpUnknown when the shape carries no verb of its own (plain records).
type Classification struct {
	Shape     Shape
	Operation Operation
	Target    string
	Table     string
	Payload   map[string]any
}

type probe func(obj map[string]any) (Classification, bool, error)

// probes run in order and the first match wins, so an object carrying keys of
// several shapes resolves deterministically.
var probes = []probe{
	probeTransaction,
	probeOperation,
	probeHDBTransaction,
	probeTypeValue,
	probeActionData,
	probeMethodBody,
	probeVerbURI,
	probeRequestResource,
	probeMetadata,
}

// Classify determines which envelope shape v matches and extracts its operation,
// target and payload. A single-element array is unwrapped once.
func Classify(v any) (Classification, error) {
	if arr, ok := v.([]any); ok {
		if len(arr) != 1 {
			return Classification{}, fmt.Errorf("%w: array with %d elements", ErrUnrecognized, len(arr))
		}
		v = arr[0]
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return Classification{}, fmt.Errorf("%w: top-level %s", ErrUnrecognized, jsonKind(v))
	}

	for _, p := range probes {
		c, matched, err := p(obj)
		if err != nil {
			return Classification{}, err
		}
		if matched {
			return c, nil
		}
	}

	return Classification{
		Shape:   ShapePlain,
		Target:  idString(obj["id"]),
		Payload: obj,
	}, nil
}

func probeTransaction(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "operation", "table", "records") {
		return Classification{}, false, nil
	}

	op, err := operationOf(obj["operation"])
	if err != nil {
		return Classification{}, true, err
	}

	c := Classification{
		Shape:     ShapeTransaction,
		Operation: op,
		Table:     stringOf(obj["table"]),
	}

	records, ok := obj["records"].([]any)
	if !ok {
		return c, true, fmt.Errorf("%w: records is %s, want array", ErrUnrecognized, jsonKind(obj["records"]))
	}
	if len(records) == 0 {
		return c, true, nil
	}

	record, ok := records[0].(map[string]any)
	if !ok {
		return c, true, fmt.Errorf("%w: records[0] is %s, want object", ErrUnrecognized, jsonKind(records[0]))
	}
	c.Target = idString(record["id"])
	c.Payload = record
	return c, true, nil
}

func probeOperation(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "operation", "table", "data") {
		return Classification{}, false, nil
	}

	op, err := operationOf(obj["operation"])
	if err != nil {
		return Classification{}, true, err
	}
	payload, err := objectOf("data", obj["data"])
	if err != nil {
		return Classification{}, true, err
	}

	return Classification{
		Shape:     ShapeOperation,
		Operation: op,
		Table:     stringOf(obj["table"]),
		Target:    firstID(obj, payload),
		Payload:   payload,
	}, true, nil
}

func probeHDBTransaction(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "type", "transaction") || !strings.EqualFold(stringOf(obj["type"]), "HDB_TRANSACTION") {
		return Classification{}, false, nil
	}

	inner, ok := obj["transaction"].(map[string]any)
	if !ok {
		return Classification{}, true, fmt.Errorf("%w: transaction is %s, want object", ErrUnrecognized, jsonKind(obj["transaction"]))
	}

	c, matched, err := probeTransaction(inner)
	if err != nil {
		return Classification{}, true, err
	}
	if !matched {
		return Classification{}, true, fmt.Errorf("%w: HDB_TRANSACTION without operation/table/records", ErrUnrecognized)
	}
	c.Shape = ShapeHDBTransaction
	return c, true, nil
}

func probeTypeValue(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "type", "value") {
		return Classification{}, false, nil
	}
	return verbPayload(ShapeTypeValue, obj, obj["type"], "value", "")
}

func probeActionData(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "action", "data") {
		return Classification{}, false, nil
	}
	return verbPayload(ShapeActionData, obj, obj["action"], "data", "")
}

func probeMethodBody(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "method") {
		return Classification{}, false, nil
	}

	payloadKey := "body"
	if !has(obj, "body") {
		// {url, method, data} is the "URL command" variant.
		if !has(obj, "data") {
			return Classification{}, false, nil
		}
		payloadKey = "data"
	}

	resource := stringOf(obj["path"])
	if resource == "" {
		resource = stringOf(obj["url"])
	}
	return verbPayload(ShapeMethodBody, obj, obj["method"], payloadKey, resource)
}

func probeVerbURI(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "verb", "uri", "body") {
		return Classification{}, false, nil
	}
	return verbPayload(ShapeVerbURI, obj, obj["verb"], "body", stringOf(obj["uri"]))
}

func probeRequestResource(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "request", "resource", "payload") {
		return Classification{}, false, nil
	}
	return verbPayload(ShapeRequestResource, obj, obj["request"], "payload", stringOf(obj["resource"]))
}

func probeMetadata(obj map[string]any) (Classification, bool, error) {
	if !has(obj, "metadata", "payload") {
		return Classification{}, false, nil
	}
	meta, ok := obj["metadata"].(map[string]any)
	if !ok || !has(meta, "method", "resource") {
		return Classification{}, false, nil
	}
	return verbPayload(ShapeMetadata, obj, meta["method"], "payload", stringOf(meta["resource"]))
}

// verbPayload builds the classification shared by every "verb + payload [+ resource]"
// shape. The target comes from the resource's last path segment, then the payload's
// id, then the envelope's id.
func verbPayload(shape Shape, obj map[string]any, verb any, payloadKey, resource string) (Classification, bool, error) {
	op, err := operationOf(verb)
	if err != nil {
		return Classification{}, true, err
	}
	payload, err := objectOf(payloadKey, obj[payloadKey])
	if err != nil {
		return Classification{}, true, err
	}

	table, target := splitResource(resource)
	if target == "" {
		target = firstID(obj, payload)
	}

	return Classification{
		Shape:     shape,
		Operation: op,
		Table:     table,
		Target:    target,
		Payload:   payload,
	}, true, nil
}

// splitResource takes "/Sensors/101" or "http://host/Sensors/101?x=1" apart into
// ("Sensors", "101"). A trailing slash means there is no id: "/Sensors/" -> ("Sensors", "").
func splitResource(resource string) (table, id string) {
	if resource == "" {
		return "", ""
	}
	if u, err := url.Parse(resource); err == nil {
		resource = u.Path
	}

	segments := strings.Split(strings.TrimPrefix(resource, "/"), "/")
	id = segments[len(segments)-1]
	if len(segments) > 1 {
		table = segments[len(segments)-2]
	}
	return table, id
}

func operationOf(v any) (Operation, error) {
	verb := stringOf(v)
	op, ok := ParseOperation(verb)
	if !ok {
		return OpUnknown, fmt.Errorf("%w: %q", ErrUnsupportedOperation, verb)
	}
	return op, nil
}

// objectOf accepts a JSON object, or null/absent as an empty payload.
func objectOf(key string, v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %s is %s, want object", ErrUnrecognized, key, jsonKind(v))
	}
}

func firstID(obj, payload map[string]any) string {
	if id := idString(payload["id"]); id != "" {
		return id
	}
	return idString(obj["id"])
}

func has(obj map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// idString renders a string or numeric id; anything else has no usable id.
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
