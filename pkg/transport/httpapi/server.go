// Package httpapi is the HTTP transport of the gateway: record writes over
// PUT/PATCH/POST/DELETE, reads over GET, and live updates over WebSocket and
// server-sent events on the same paths.
package httpapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/edgeflare/sensorhub/pkg/gateway"
	"github.com/edgeflare/sensorhub/pkg/httputil"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the HTTP transport.
type Options struct {
	Logger *zap.Logger
	// MaxBodyBytes limits request bodies and WebSocket frames. Defaults to 1 MiB.
	MaxBodyBytes int64
	// KeepAlive is the SSE comment and WebSocket ping interval. Defaults to 15s.
	KeepAlive time.Duration
	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// Server serves the gateway over HTTP.
type Server struct {
	gw        *gateway.Gateway
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	maxBody   int64
	keepAlive time.Duration
}

// New returns a Server for gw.
func New(gw *gateway.Gateway, opts Options) *Server {
	s := &Server{
		gw:        gw,
		logger:    opts.Logger,
		maxBody:   opts.MaxBodyBytes,
		keepAlive: opts.KeepAlive,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(opts.AllowedOrigins),
	}
	return s
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Register adds the gateway routes to r. The record routes are registered on
// a group that adds mw, e.g. authentication; /healthz is not wrapped by mw.
func (s *Server) Register(r *httputil.Router, mw ...httputil.Middleware) {
	r.HandleFunc("GET /healthz", s.healthz)

	api := r.Group("")
	if len(mw) > 0 {
		api.Use(mw[0], mw[1:]...)
	}
	api.HandleFunc("PUT /{table}/{id}", s.write(ingest.OpUnknown))
	api.HandleFunc("PATCH /{table}/{id}", s.write(ingest.OpUpdate))
	api.HandleFunc("DELETE /{table}/{id}", s.write(ingest.OpDelete))
	api.HandleFunc("POST /{table}/", s.write(ingest.OpUnknown))
	api.HandleFunc("GET /{table}/{id}", s.read)
	api.HandleFunc("GET /{table}/", s.read)
}

// streamLogger is the request logger tagged with the stream target and, for
// authenticated requests, the user.
func streamLogger(r *http.Request, table, id string) *zap.Logger {
	logger := httputil.Logger(r).With(zap.String("table", table), zap.String("id", id))
	if user, ok := httputil.BasicAuthUser(r); ok {
		logger = logger.With(zap.String("user", user))
	}
	return logger
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// write handles every mutating route. hint is the operation implied by the
// HTTP method; bodies are classified, so envelopes are accepted too.
func (s *Server) write(hint ingest.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httputil.Error(w, http.StatusRequestEntityTooLarge, err.Error())
				return
			}
			httputil.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		id := r.PathValue("id")
		if r.Method == http.MethodPost {
			id = uuid.NewString()
		}

		msg := ingest.RawMessage{
			Transport:     ingest.TransportHTTP,
			Table:         r.PathValue("table"),
			TargetHint:    id,
			ContentType:   r.Header.Get("Content-Type"),
			Bytes:         body,
			OperationHint: hint,
		}
		// The error is the responder's and there is nobody left to tell.
		_, _ = s.gw.Emit(r.Context(), msg, responder{w})
	}
}

// responder writes a gateway response as the HTTP reply.
type responder struct {
	w http.ResponseWriter
}

func (h responder) Respond(_ context.Context, resp gateway.Response) error {
	httputil.JSON(h.w, resp.HTTPStatus(), resp)
	return nil
}

// read dispatches GET to the WebSocket, SSE or plain JSON handler.
func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	table, id := r.PathValue("table"), r.PathValue("id")

	switch {
	case websocket.IsWebSocketUpgrade(r):
		s.serveWS(w, r, table, id)
	case acceptsEventStream(r):
		s.serveSSE(w, r, table, id)
	case id == "":
		httputil.Error(w, http.StatusBadRequest, "table streams require a WebSocket upgrade or Accept: text/event-stream")
	default:
		rec, err := s.gw.Get(r.Context(), table, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httputil.Error(w, http.StatusNotFound, "record "+ingest.Key(table, id)+" not found")
				return
			}
			httputil.Logger(r).Error("read failed", zap.String("table", table), zap.String("id", id), zap.Error(err))
			httputil.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.JSON(w, http.StatusOK, rec)
	}
}

func acceptsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}
