package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/gateway"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// wsConn serializes writes on one WebSocket connection. Responses and
// subscription events are written from different goroutines.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Respond implements gateway.Responder.
func (c *wsConn) Respond(_ context.Context, resp gateway.Response) error {
	return c.writeJSON(resp)
}

// serveWS upgrades the connection. Every inbound frame is one message for
// table/id; every committed change of table/id (or of the table when id is
// empty) is pushed as an event. The current record, if any, is sent first.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, table, id string) {
	logger := streamLogger(r, table, id)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	logger.Debug("websocket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	metrics.Subscribers.WithLabelValues(string(ingest.TransportWS)).Inc()
	defer metrics.Subscribers.WithLabelValues(string(ingest.TransportWS)).Dec()

	c := &wsConn{conn: conn}
	sub := s.gw.Subscribe(ctx, table, id)

	if id != "" {
		if rec, err := s.gw.Get(ctx, table, id); err == nil {
			if e, err := recordEvent(rec); err == nil {
				if err := c.writeJSON(e); err != nil {
					return
				}
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pushEvents(ctx, cancel, c, sub)
	}()

	conn.SetReadLimit(s.maxBody)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * s.keepAlive))
	})
	_ = conn.SetReadDeadline(time.Now().Add(3 * s.keepAlive))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(3 * s.keepAlive))

		msg := ingest.RawMessage{
			Transport:  ingest.TransportWS,
			Table:      table,
			TargetHint: id,
			Bytes:      data,
		}
		if _, err := s.gw.Emit(ctx, msg, c); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			break
		}
	}

	cancel()
	wg.Wait()
}

// pushEvents writes subscription events and keepalive pings until the
// subscription ends or a write fails.
func (s *Server) pushEvents(ctx context.Context, cancel context.CancelFunc, c *wsConn, sub *broker.Subscription) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e := <-sub.Events():
			if err := c.writeJSON(e); err != nil {
				cancel()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				cancel()
				return
			}
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}
