// Package middleware provides the HTTP middleware chain of the goflash
// server.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/goflash/internal/errors"
	"github.com/3leaps/goflash/internal/observability"
)

// ErrorResponse mirrors apperrors.HTTPErrorResponse for middleware output.
type ErrorResponse struct {
	Error struct {
		Code      string                 `json:"code"`
		Message   string                 `json:"message"`
		Details   map[string]interface{} `json:"details,omitempty"`
		RequestID string                 `json:"request_id,omitempty"`
	} `json:"error"`
}

// Recovery turns a handler panic into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := r.Header.Get(apperrors.RequestIDHeader)
			observability.ServerLogger.Error("Handler panic recovered",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", requestID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			writeEnvelope(w, envelope, http.StatusInternalServerError, requestID)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is Recovery under the name used by the router setup.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// writeErrorResponse renders a gofulmen error envelope in the HTTP error
// shape. The correlation id becomes the request id; envelope context and
// details become details.
func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	writeEnvelope(w, envelope, status, "")
}

func writeEnvelope(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int, requestID string) {
	var resp ErrorResponse

	raw, err := json.Marshal(envelope)
	if err == nil {
		var fields map[string]interface{}
		if json.Unmarshal(raw, &fields) == nil {
			resp.Error.Code = stringField(fields, "code")
			resp.Error.Message = stringField(fields, "message")
			resp.Error.RequestID = stringField(fields, "correlation_id", "correlationId")
			resp.Error.Details = mergeMaps(fields, "details", "context")
		}
	}
	if resp.Error.Code == "" {
		resp.Error.Code = "INTERNAL_ERROR"
	}
	if resp.Error.RequestID == "" {
		resp.Error.RequestID = requestID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func stringField(fields map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func mergeMaps(fields map[string]interface{}, keys ...string) map[string]interface{} {
	var out map[string]interface{}
	for _, k := range keys {
		m, ok := fields[k].(map[string]interface{})
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(m))
		}
		for mk, mv := range m {
			out[mk] = mv
		}
	}
	return out
}
