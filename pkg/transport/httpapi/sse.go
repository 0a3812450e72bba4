package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/sensorhub/pkg/broker"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/metrics"
	"github.com/edgeflare/sensorhub/pkg/store"
	"go.uber.org/zap"
)

// serveSSE streams committed changes of table/id as server-sent events. Each
// frame carries a per-stream sequence number as its id.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, table, id string) {
	rc := http.NewResponseController(w)
	logger := streamLogger(r, table, id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Error("streaming unsupported", zap.Error(err))
		return
	}
	logger.Debug("event stream opened")

	ctx := r.Context()
	metrics.Subscribers.WithLabelValues(string(ingest.TransportSSE)).Inc()
	defer metrics.Subscribers.WithLabelValues(string(ingest.TransportSSE)).Dec()

	sub := s.gw.Subscribe(ctx, table, id)
	defer sub.Close()

	var seq uint64
	send := func(e broker.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", seq, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if id != "" {
		if rec, err := s.gw.Get(ctx, table, id); err == nil {
			if e, err := recordEvent(rec); err == nil {
				if err := send(e); err != nil {
					return
				}
			}
		}
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case e := <-sub.Events():
			if err := send(e); err != nil {
				logger.Debug("sse write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// recordEvent is the event sent for the current state of a record when a
// stream opens.
func recordEvent(rec store.Record) (broker.Event, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return broker.Event{}, err
	}
	return broker.Event{Type: ingest.OpPut, Table: rec.Table, ID: rec.ID, Value: value}, nil
}
