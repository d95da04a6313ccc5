// Package errors maps domain errors onto HTTP status codes and writes them
// as gofulmen error envelopes.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/3leaps/vidgrab/internal/observability"
	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/auth"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// Error codes carried in the envelope.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeQueueFull          = "QUEUE_FULL"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// Sentinel errors for conditions that originate in the HTTP layer.
var (
	ErrInvalidRequest     = stderrors.New("invalid request")
	ErrNotFound           = stderrors.New("not found")
	ErrMethodNotAllowed   = stderrors.New("method not allowed")
	ErrRateLimited        = stderrors.New("rate limit exceeded")
	ErrServiceUnavailable = stderrors.New("service unavailable")
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error details.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AppError is an error with an explicit HTTP status and code.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured context to the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// NewInvalidRequest reports a client error.
func NewInvalidRequest(message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message, Err: ErrInvalidRequest}
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message, Err: ErrNotFound}
}

// NewUnauthorized reports a missing credential.
func NewUnauthorized(message string) *AppError {
	return &AppError{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message, Err: auth.ErrUnauthorized}
}

// NewServiceUnavailable reports a dependency that is down.
func NewServiceUnavailable(message string) *AppError {
	return &AppError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: ErrServiceUnavailable}
}

// Classify maps err onto an HTTP status and error code.
func Classify(err error) (int, string) {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status, appErr.Code
	}

	switch {
	case stderrors.Is(err, ErrInvalidRequest),
		stderrors.Is(err, jobregistry.ErrInvalidRequest),
		fetcher.IsInvalidInput(err):
		return http.StatusBadRequest, CodeInvalidRequest
	case stderrors.Is(err, auth.ErrUnauthorized), stderrors.Is(err, auth.ErrInvalidState):
		return http.StatusUnauthorized, CodeUnauthorized
	case stderrors.Is(err, ErrNotFound),
		stderrors.Is(err, artifact.ErrNotFound),
		stderrors.Is(err, fetcher.ErrVideoNotFound),
		stderrors.Is(err, auth.ErrUnsupported):
		return http.StatusNotFound, CodeNotFound
	case stderrors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed, CodeMethodNotAllowed
	case stderrors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case stderrors.Is(err, jobregistry.ErrQueueFull):
		return http.StatusServiceUnavailable, CodeQueueFull
	case stderrors.Is(err, jobregistry.ErrDispatcherClosed), stderrors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// RespondWithError writes the error envelope for err. Internal errors are
// logged and their message is not exposed unless it came from an AppError.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	requestID := RequestIDFromContext(r.Context())

	message := err.Error()
	var details map[string]any
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Message != "" {
			message = appErr.Message
		}
		details = appErr.Details
	} else if status == http.StatusInternalServerError {
		message = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		observability.ServerLogger.Error("Request failed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	WriteEnvelope(w, status, NewEnvelope(code, message, requestID, details))
}

// NewEnvelope builds the gofulmen envelope for an error response. Details
// that fail envelope validation are dropped rather than failing the response.
func NewEnvelope(code, message, requestID string, details map[string]any) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(details) > 0 {
		if withCtx, err := env.WithContext(details); err == nil {
			env = withCtx
		}
	}
	return env
}

// BodyFromEnvelope projects env onto the JSON error body.
func BodyFromEnvelope(env *gferrors.ErrorEnvelope) ErrorBody {
	if env == nil {
		return ErrorBody{Code: CodeInternal, Message: "internal server error"}
	}
	body := ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
	}
	if len(env.Context) > 0 {
		body.Details = make(map[string]any, len(env.Context))
		for k, v := range env.Context {
			body.Details[k] = v
		}
	}
	return body
}

// WriteEnvelope writes env as the error response with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: BodyFromEnvelope(env)})
}

type requestIDKey struct{}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
