package ragblade

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/flarexio/ragblade/rag"
)

// StatusCode maps an error to the status reported by the transports.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, rag.ErrInvalidInput), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, rag.ErrUnknownCollection):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, rag.ErrContextTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, rag.ErrDimensionMismatch), errors.Is(err, rag.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, rag.ErrSourceUnavailable),
		errors.Is(err, rag.ErrUnavailable),
		errors.Is(err, rag.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

var statusKinds = map[int]error{
	http.StatusBadRequest:            rag.ErrInvalidInput,
	http.StatusUnauthorized:          rag.ErrAuth,
	http.StatusNotFound:              rag.ErrUnknownCollection,
	http.StatusConflict:              rag.ErrConflict,
	http.StatusRequestEntityTooLarge: rag.ErrContextTooLarge,
	http.StatusUnprocessableEntity:   rag.ErrDimensionMismatch,
	http.StatusTooManyRequests:       rag.ErrRateLimited,
	http.StatusServiceUnavailable:    rag.ErrUnavailable,
	http.StatusGatewayTimeout:        rag.ErrTimeout,
}

// ErrorKind is the inverse of StatusCode for remote callers. A status with
// no single kind yields nil.
func ErrorKind(status int) error {
	return statusKinds[status]
}

// errorKinds names the rag kinds on the wire, in StatusCode precedence.
var errorKinds = []struct {
	name string
	kind error
}{
	{"invalid_input", rag.ErrInvalidInput},
	{"auth", rag.ErrAuth},
	{"unknown_collection", rag.ErrUnknownCollection},
	{"conflict", rag.ErrConflict},
	{"context_too_large", rag.ErrContextTooLarge},
	{"dimension_mismatch", rag.ErrDimensionMismatch},
	{"parse", rag.ErrParse},
	{"rate_limited", rag.ErrRateLimited},
	{"source_unavailable", rag.ErrSourceUnavailable},
	{"unavailable", rag.ErrUnavailable},
	{"connection", rag.ErrConnection},
	{"timeout", rag.ErrTimeout},
}

// KindName returns the wire name of the kind err carries, or "".
func KindName(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	return ""
}

func kindByName(name string) error {
	for _, k := range errorKinds {
		if k.name == name {
			return k.kind
		}
	}

	return nil
}

// ErrorResponse is the body a transport returns for a failed call.
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  string    `json:"kind,omitempty"`
	Stage rag.Stage `json:"stage,omitempty"`
}

func NewErrorResponse(err error) ErrorResponse {
	resp := ErrorResponse{
		Error: err.Error(),
		Kind:  KindName(err),
	}

	if stage, ok := rag.StageOf(err); ok {
		resp.Stage = stage
	}

	return resp
}

// RemoteError rebuilds an error received from a transport so that the kind
// and the stage survive the round trip. The kind named in the body wins; the
// status only fills in for peers that send none.
func RemoteError(status int, resp ErrorResponse) error {
	msg := resp.Error
	if resp.Stage != "" {
		msg = strings.TrimPrefix(msg, string(resp.Stage)+": ")
	}

	kind := kindByName(resp.Kind)
	if kind == nil {
		kind = ErrorKind(status)
	}

	err := errors.New(msg)
	if kind != nil {
		err = &remoteError{kind, msg}
	}

	if resp.Stage != "" {
		return &rag.Error{
			Stage: resp.Stage,
			Err:   err,
		}
	}

	return err
}

type remoteError struct {
	kind error
	msg  string
}

func (e *remoteError) Error() string {
	return e.msg
}

func (e *remoteError) Unwrap() error {
	return e.kind
}
