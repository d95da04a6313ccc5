package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/vidgrab/internal/errors"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

func TestErrorResponder_Override(t *testing.T) {
	defer ResetHTTPErrorResponder()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodPost, "/download", nil), jobregistry.ErrQueueFull)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, captured, jobregistry.ErrQueueFull)
}

func TestErrorResponder_DefaultEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		reset      func()
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "nil restores default",
			reset:      func() { SetHTTPErrorResponder(nil) },
			err:        jobregistry.ErrQueueFull,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   apperrors.CodeQueueFull,
		},
		{
			name:       "reset restores default",
			reset:      ResetHTTPErrorResponder,
			err:        apperrors.NewInvalidRequest("URL is required"),
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
				w.WriteHeader(http.StatusTeapot)
			})
			tt.reset()

			rec := httptest.NewRecorder()
			respondWithError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			require.Equal(t, tt.wantStatus, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}
