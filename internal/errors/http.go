// Package errors defines the HTTP error envelope shared by every goflash
// endpoint:
//
//	{"error": {"code": "...", "message": "...", "details": {...}, "request_id": "..."}}
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error HTTPErrorBody `json:"error"`
}

// HTTPErrorBody is the inner error object.
type HTTPErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPError is an error that knows its HTTP status and envelope code.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e with details merged in.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		out.Details[k] = v
	}
	for k, v := range details {
		out.Details[k] = v
	}
	return &out
}

// WithCause returns a copy of e wrapping err.
func (e *HTTPError) WithCause(err error) *HTTPError {
	out := *e
	out.Err = err
	return &out
}

// New creates an HTTPError.
func New(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

func NewBadRequest(message string) *HTTPError {
	return New(http.StatusBadRequest, "BAD_REQUEST", message)
}

func NewNotFound(message string) *HTTPError {
	return New(http.StatusNotFound, "NOT_FOUND", message)
}

func NewMethodNotAllowed(message string) *HTTPError {
	return New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", message)
}

func NewServiceUnavailable(message string) *HTTPError {
	return New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
}

func NewInternal(message string) *HTTPError {
	return New(http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// RespondWithError writes err as a JSON error envelope. Errors that are not
// an *HTTPError become a 500 without leaking their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *HTTPError
	if !stderrors.As(err, &httpErr) {
		httpErr = NewInternal("Internal server error")
	}

	body := HTTPErrorResponse{Error: HTTPErrorBody{
		Code:      httpErr.Code,
		Message:   httpErr.Message,
		Details:   httpErr.Details,
		RequestID: requestID(w, r),
	}}
	WriteJSON(w, httpErr.Status, body)
}

// WriteJSON writes v with status as application/json.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := w.Header().Get(RequestIDHeader); id != "" {
		return id
	}
	if r != nil {
		return r.Header.Get(RequestIDHeader)
	}
	return ""
}
