package ingest

// Probe is a named sample envelope. Probes cover every shape the classifier
// knows and are what the probe command sends to a running gateway.
type Probe struct {
	Name     string
	Envelope string
}

// Probes lists one sample per known wire format, in the order they were
// historically tested against the WebSocket endpoint.
var Probes = []Probe{
	{"Plain JSON", `{"temp":70.0,"location":"warehouse"}`},
	{"Plain JSON with ID", `{"id":"101","temp":75.0,"location":"warehouse"}`},
	{"HTTP-like (method/body)", `{"method":"PUT","body":{"temp":80.0,"location":"warehouse"}}`},
	{"HTTP-like (method/headers/body)", `{"method":"PUT","headers":{"Content-Type":"application/json"},"body":{"temp":80.5,"location":"warehouse"}}`},
	{"HTTP-like (method/path/body)", `{"method":"PUT","path":"/Sensors/101","body":{"temp":85.0,"location":"warehouse"}}`},
	{"Type/Value wrapper", `{"type":"put","value":{"temp":85.5,"location":"warehouse"}}`},
	{"Type/ID/Value wrapper", `{"type":"put","id":"101","value":{"temp":90.0,"location":"warehouse"}}`},
	{"Action/Data", `{"action":"put","data":{"temp":90.5,"location":"warehouse"}}`},
	{"Operation format", `{"operation":"update","table":"Sensors","id":"101","data":{"temp":95.5,"location":"warehouse"}}`},
	{"Transaction format", `{"operation":"update","schema":"data","table":"Sensors","records":[{"id":"101","temp":75.5,"location":"warehouse"}]}`},
	{"HDB_TRANSACTION wrapper", `{"type":"HDB_TRANSACTION","transaction":{"operation":"update","schema":"data","table":"Sensors","records":[{"id":"101","temp":75.5,"location":"warehouse"}]}}`},
	{"Request format", `{"request":"PUT","resource":"/Sensors/101","payload":{"temp":75.5,"location":"warehouse"}}`},
	{"URL command", `{"url":"/Sensors/101","method":"PUT","data":{"temp":75.5,"location":"warehouse"}}`},
	{"RESTful command", `{"verb":"PUT","uri":"/Sensors/101","body":{"temp":75.5,"location":"warehouse"}}`},
	{"Message with metadata", `{"metadata":{"method":"PUT","resource":"/Sensors/101"},"payload":{"temp":75.5,"location":"warehouse"}}`},
}
