package client

import (
	"context"
	"fmt"
	"time"

	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/gorilla/websocket"
)

// ProbeResult is the gateway's answer to one probe envelope.
type ProbeResult struct {
	Name     string
	Envelope string
	Response []byte
	Err      error
}

// Probe sends every probe on a fresh WebSocket connection to url and calls
// fn with each result in order. It stops early only when ctx is done.
func Probe(ctx context.Context, url string, probes []ingest.Probe, fn func(ProbeResult)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	for _, p := range probes {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := ProbeResult{Name: p.Name, Envelope: p.Envelope}
		res.Response, res.Err = probeOne(ctx, &dialer, url, p.Envelope)
		fn(res)
	}
	return nil
}

func probeOne(ctx context.Context, dialer *websocket.Dialer, url, envelope string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	resp, err := exchange(ctx, conn, []byte(envelope))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return resp, err
}
