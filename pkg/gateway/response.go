package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edgeflare/sensorhub/pkg/hook"
	"github.com/edgeflare/sensorhub/pkg/ingest"
	"github.com/edgeflare/sensorhub/pkg/store"
)

// Kind classifies an error for responses and metrics.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindMissingTarget Kind = "missing_target"
	KindEmptyPayload  Kind = "empty_payload"
	KindRejected      Kind = "rejected"
	KindStorage       Kind = "storage"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// KindOf maps err to its Kind. Decode errors include unrecognized envelopes and
// unsupported operations.
func KindOf(err error) Kind {
	var (
		decodeErr *ingest.DecodeError
		rejection *hook.RejectionError
		storeErr  *store.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejection):
		return KindRejected
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.As(err, &storeErr):
		return KindStorage
	case errors.As(err, &decodeErr),
		errors.Is(err, ingest.ErrUnrecognized),
		errors.Is(err, ingest.ErrUnsupportedOperation):
		return KindDecode
	case errors.Is(err, ingest.ErrMissingTarget):
		return KindMissingTarget
	case errors.Is(err, ingest.ErrEmptyPayload):
		return KindEmptyPayload
	default:
		return KindInternal
	}
}

// HTTPStatus returns the HTTP status code for a Kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case "":
		return http.StatusOK
	case KindDecode:
		return http.StatusBadRequest
	case KindMissingTarget, KindEmptyPayload:
		return http.StatusUnprocessableEntity
	case KindRejected:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// Response is what request/response transports send back for one message.
type Response struct {
	Status      string           `json:"status"`
	Kind        Kind             `json:"kind,omitempty"`
	Code        int              `json:"code,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	Message     string           `json:"message,omitempty"`
	Shape       ingest.Shape     `json:"shape,omitempty"`
	Type        ingest.Operation `json:"type,omitempty"`
	Table       string           `json:"table,omitempty"`
	ID          string           `json:"id,omitempty"`
	Value       json.RawMessage  `json:"value,omitempty"`
	Annotations map[string]any   `json:"annotations,omitempty"`
}

// NewResponse builds the Response for the result of Handle.
func NewResponse(out Outcome, err error) Response {
	if err != nil {
		kind := KindOf(err)
		var rejection *hook.RejectionError
		if errors.As(err, &rejection) {
			return Response{
				Status: StatusRejected,
				Kind:   kind,
				Code:   kind.HTTPStatus(),
				Reason: rejection.Reason,
				Table:  out.Mutation.Table,
				ID:     out.Mutation.TargetID,
			}
		}
		return Response{
			Status:  StatusError,
			Kind:    kind,
			Code:    kind.HTTPStatus(),
			Message: err.Error(),
		}
	}

	value, merr := json.Marshal(out.Record)
	if merr != nil {
		return NewResponse(Outcome{}, merr)
	}
	return Response{
		Status:      StatusOK,
		Shape:       out.Mutation.Shape,
		Type:        out.Mutation.Operation,
		Table:       out.Record.Table,
		ID:          out.Record.ID,
		Value:       value,
		Annotations: out.Annotations,
	}
}

// HTTPStatus returns the HTTP status code of the response.
func (r Response) HTTPStatus() int {
	if r.Code != 0 {
		return r.Code
	}
	return http.StatusOK
}

// Responder sends a Response back over the transport a message came in on.
// It returns an error when the reply channel is closed.
type Responder interface {
	Respond(ctx context.Context, r Response) error
}

// Discard is the Responder of fire-and-forget transports.
var Discard Responder = discard{}

type discard struct{}

func (discard) Respond(context.Context, Response) error { return nil }

// Emit handles msg and sends the result through r. The returned error is the
// Responder's; processing errors are reported in the Response.
func (g *Gateway) Emit(ctx context.Context, msg ingest.RawMessage, r Responder) (Response, error) {
	out, err := g.Handle(ctx, msg)
	resp := NewResponse(out, err)
	if r == nil {
		r = Discard
	}
	return resp, r.Respond(ctx, resp)
}
