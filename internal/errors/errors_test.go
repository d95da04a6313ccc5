package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error", NewInvalidRequest("url is required"), http.StatusBadRequest, CodeInvalidRequest},
		{"dispatcher invalid", fmt.Errorf("%w: url is required", jobregistry.ErrInvalidRequest), http.StatusBadRequest, CodeInvalidRequest},
		{"bad format", fmt.Errorf("wrap: %w", fetcher.ErrInvalidFormat), http.StatusBadRequest, CodeInvalidRequest},
		{"unauthorized", auth.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{"bad state", auth.ErrInvalidState, http.StatusUnauthorized, CodeUnauthorized},
		{"artifact missing", &artifact.Error{Op: "Open", Err: artifact.ErrNotFound}, http.StatusNotFound, CodeNotFound},
		{"video missing", &fetcher.Error{Op: "VideoInfo", Err: fetcher.ErrVideoNotFound}, http.StatusNotFound, CodeNotFound},
		{"wrong auth mode", auth.ErrUnsupported, http.StatusNotFound, CodeNotFound},
		{"queue full", jobregistry.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull},
		{"closed", jobregistry.ErrDispatcherClosed, http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{"method", ErrMethodNotAllowed, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/progress/1", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-42"))

	t.Run("client error keeps message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithError(rec, req, NewInvalidRequest("URL is required").WithDetails(map[string]any{"field": "url"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, CodeInvalidRequest, body.Error.Code)
		assert.Equal(t, "URL is required", body.Error.Message)
		assert.Equal(t, "req-42", body.Error.RequestID)
		assert.Equal(t, "url", body.Error.Details["field"])
	})

	t.Run("internal error hides message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithError(rec, req, stderrors.New("db password is hunter2"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, CodeInternal, body.Error.Code)
		assert.NotContains(t, body.Error.Message, "hunter2")
	})

	t.Run("sentinel keeps message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RespondWithError(rec, req, jobregistry.ErrQueueFull)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body HTTPErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, CodeQueueFull, body.Error.Code)
		assert.Equal(t, jobregistry.ErrQueueFull.Error(), body.Error.Message)
	})
}

func TestAppError(t *testing.T) {
	cause := stderrors.New("disk full")
	err := &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "could not save", Err: cause}
	assert.Equal(t, "could not save: disk full", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "missing", NewNotFound("missing").Error())
	assert.ErrorIs(t, NewUnauthorized("login first"), auth.ErrUnauthorized)
	assert.ErrorIs(t, NewServiceUnavailable("down"), ErrServiceUnavailable)
}

func TestNewEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		details   map[string]any
		want      ErrorBody
	}{
		{
			name: "bare",
			want: ErrorBody{Code: CodeNotFound, Message: "video not found"},
		},
		{
			name:      "correlation id becomes request id",
			requestID: "req-9",
			want:      ErrorBody{Code: CodeNotFound, Message: "video not found", RequestID: "req-9"},
		},
		{
			name:      "context becomes details",
			requestID: "req-10",
			details:   map[string]any{"download_id": "42"},
			want: ErrorBody{
				Code:      CodeNotFound,
				Message:   "video not found",
				RequestID: "req-10",
				Details:   map[string]any{"download_id": "42"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(CodeNotFound, "video not found", tt.requestID, tt.details)
			assert.Equal(t, tt.want, BodyFromEnvelope(env))

			rec := httptest.NewRecorder()
			WriteEnvelope(rec, http.StatusNotFound, env)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want.Code, body.Error.Code)
			assert.Equal(t, tt.want.RequestID, body.Error.RequestID)
			assert.Equal(t, tt.want.Details, body.Error.Details)
		})
	}
}

func TestBodyFromEnvelope_Nil(t *testing.T) {
	assert.Equal(t, CodeInternal, BodyFromEnvelope(nil).Code)
}

func TestRequestIDContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
}
