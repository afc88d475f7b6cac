package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondWithError_HTTPError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()

	err := NewNotFound("no such board").WithDetails(map[string]any{"board": "uno"})
	RespondWithError(rec, req, fmt.Errorf("lookup: %w", err))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, "no such board", body.Error.Message)
	assert.Equal(t, "uno", body.Error.Details["board"])
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestRespondWithError_PlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, body.Error.Message, assert.AnError.Error())
}

func TestRespondWithError_ResponseHeaderRequestIDWins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "generated")

	RespondWithError(rec, req, NewBadRequest("bad"))
	assert.Equal(t, "generated", decode(t, rec).Error.RequestID)
}

func TestHTTPError_WithDetailsDoesNotMutate(t *testing.T) {
	base := NewServiceUnavailable("busy").WithDetails(map[string]any{"a": 1})
	derived := base.WithDetails(map[string]any{"b": 2})

	assert.Len(t, base.Details, 1)
	assert.Len(t, derived.Details, 2)

	wrapped := base.WithCause(assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Nil(t, base.Err)
	assert.Contains(t, wrapped.Error(), "SERVICE_UNAVAILABLE")
}
