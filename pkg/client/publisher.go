package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflare/sensorhub/pkg/httputil"
	"github.com/edgeflare/sensorhub/pkg/mqtt"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Publisher sends one payload to a target ("Table/id"). The returned bytes
// are the gateway's response when the transport carries one.
type Publisher interface {
	Publish(ctx context.Context, target string, payload []byte) ([]byte, error)
	Close() error
}

// HTTPPublisher PUTs payloads to {baseURL}/{target}.
type HTTPPublisher struct {
	baseURL string
	method  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPPublisher returns a publisher for the gateway at baseURL. method
// defaults to PUT.
func NewHTTPPublisher(baseURL, method string, logger *zap.Logger) *HTTPPublisher {
	if method == "" {
		method = http.MethodPut
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPublisher{
		baseURL: baseURL,
		method:  method,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, target string, payload []byte) ([]byte, error) {
	config := httputil.DefaultRequestConfig(p.method, JoinURL(p.baseURL, target))
	config.Client = p.client
	config.Logger = p.logger

	resp, err := httputil.Request(ctx, config, payload)
	if err != nil {
		// A rejected or malformed message still has a response worth printing.
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return resp.Body, nil
		}
		return nil, err
	}
	return resp.Body, nil
}

func (p *HTTPPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// mqttPublisher is the subset of mqtt.Client used to publish.
type mqttPublisher interface {
	PublishTimeout(topic string, qos byte, retained bool, payload any, timeout time.Duration) error
	Disconnect()
}

// MQTTPublisher publishes payloads on the target topic.
type MQTTPublisher struct {
	client  mqttPublisher
	qos     byte
	retain  bool
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker described by opts. Retained
// messages are stored by the gateway; non-retained ones are only relayed to
// live subscribers when the gateway runs with retainedOnly.
func NewMQTTPublisher(opts mqtt.Options, qos byte, retain bool, logger *zap.Logger) (*MQTTPublisher, error) {
	c, err := mqtt.Dial(opts, "sensorhub-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &MQTTPublisher{client: c, qos: qos, retain: retain, timeout: 10 * time.Second}, nil
}

func (p *MQTTPublisher) Publish(_ context.Context, target string, payload []byte) ([]byte, error) {
	if err := p.client.PublishTimeout(target, p.qos, p.retain, payload, p.timeout); err != nil {
		return nil, fmt.Errorf("publish %s: %w", target, err)
	}
	return nil, nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect()
	return nil
}

// WSPublisher keeps one WebSocket connection per target and waits for the
// gateway's response to each frame.
type WSPublisher struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu     sync.Mutex
	target string
	conn   *websocket.Conn
}

// NewWSPublisher returns a publisher for the gateway at baseURL (ws:// or wss://).
func NewWSPublisher(baseURL string, logger *zap.Logger) *WSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSPublisher{
		baseURL: baseURL,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
	}
}

func (p *WSPublisher) Publish(ctx context.Context, target string, payload []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.target != target {
		p.closeLocked()
		conn, _, err := p.dialer.DialContext(ctx, JoinURL(p.baseURL, target), nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", target, err)
		}
		p.conn, p.target = conn, target
		p.logger.Debug("websocket connected", zap.String("target", target))
	}

	resp, err := exchange(ctx, p.conn, payload)
	if err != nil {
		p.closeLocked()
		return nil, err
	}
	return resp, nil
}

func (p *WSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *WSPublisher) closeLocked() error {
	if p.conn == nil {
		return nil
	}
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := p.conn.Close()
	p.conn = nil
	return err
}

// exchange writes payload and returns the next frame that is a gateway
// response. Subscription events pushed on the same connection are skipped.
func exchange(ctx context.Context, conn *websocket.Conn, payload []byte) ([]byte, error) {
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if isResponse(data) {
			return data, nil
		}
	}
}

func isResponse(data []byte) bool {
	var frame struct {
		Status *string `json:"status"`
	}
	return json.Unmarshal(data, &frame) == nil && frame.Status != nil
}

// ErrUnknownTransport is returned for a transport name no publisher or
// subscriber implements.
var ErrUnknownTransport = errors.New("unknown transport")
