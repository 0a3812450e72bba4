// Package client implements the command line publishers, subscribers and the
// format probe that talk to a running gateway.
package client

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// Reading is a single sensor sample.
type Reading struct {
	Temp     float64 `json:"temp"`
	Location string  `json:"location"`
}

// RandomReading returns a warehouse reading with a temperature in [65, 85)
// rounded to four decimals. r may be nil.
func RandomReading(r *rand.Rand) Reading {
	f := rand.Float64
	if r != nil {
		f = r.Float64
	}
	temp := 65 + 20*f()
	temp = math.Floor(temp*1e4) / 1e4
	return Reading{Temp: temp, Location: "warehouse"}
}

// JoinURL appends target to base with exactly one slash between them.
func JoinURL(base, target string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(target, "/")
}

// FormatUpdate renders one received update for display. Events carry the
// record under "value"; bare records are printed as they are. Payloads that
// are not JSON objects are printed verbatim.
func FormatUpdate(source string, data []byte, now time.Time) string {
	ts := now.Format(time.RFC3339)

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Sprintf("[%s] Update on %s: %s\n", ts, source, strings.TrimSpace(string(data)))
	}

	record := payload
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] Update on %s:\n", ts, source)
	if v, ok := payload["value"].(map[string]any); ok {
		record = v
		if typ, ok := payload["type"].(string); ok {
			fmt.Fprintf(&b, "  Type: %s\n", typ)
		}
	}
	fmt.Fprintf(&b, "  Temperature: %s\n", field(record, "temp", "°F"))
	fmt.Fprintf(&b, "  Location: %s\n", field(record, "location", ""))
	if alert, ok := record["alert"].(bool); ok && alert {
		b.WriteString("  ALERT\n")
	}
	return b.String()
}

func field(record map[string]any, name, unit string) string {
	v, ok := record[name]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v) + unit
}
