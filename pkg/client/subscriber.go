package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler receives each update with the topic or target it arrived on.
type Handler func(source string, data []byte)

// SubscribeMQTT subscribes to topic and calls h for every message until ctx
// is done. Retained messages arrive first, then live updates.
func SubscribeMQTT(ctx context.Context, opts mqtt.Options, topic string, qos byte, logger *zap.Logger, h Handler) error {
	c, err := mqtt.Dial(opts, "sensorhub-subscriber", logger)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	err = c.Subscribe(topic, qos, func(_ paho.Client, m paho.Message) {
		h(m.Topic(), m.Payload())
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// SubscribeWS opens a WebSocket to {baseURL}/{target} and calls h for every
// frame until ctx is done or the server closes the connection.
func SubscribeWS(ctx context.Context, baseURL, target string, logger *zap.Logger, h Handler) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, JoinURL(baseURL, target), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	logger.Info("subscribed", zap.String("target", target))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		h(target, data)
	}
}

// SubscribeSSE requests {baseURL}/{target} as an event stream and calls h
// with the data of every event until ctx is done or the stream ends.
func SubscribeSSE(ctx context.Context, baseURL, target string, client *http.Client, h Handler) error {
	if client == nil {
		client = &http.Client{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, JoinURL(baseURL, target), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	err = readEvents(resp.Body, func(data string) { h(target, []byte(data)) })
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a text/event-stream body and calls fn with the joined
// data lines of each event. Comments and other fields are ignored.
func readEvents(r io.Reader, fn func(data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
