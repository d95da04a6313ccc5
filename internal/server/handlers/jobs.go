package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/vidgrab/internal/errors"
	"github.com/3leaps/vidgrab/pkg/artifact"
	"github.com/3leaps/vidgrab/pkg/fetcher"
	"github.com/3leaps/vidgrab/pkg/jobregistry"
)

// DefaultFormat is used when a download request omits format.
const DefaultFormat = "360p"

// maxRequestBody caps the size of a download request body.
const maxRequestBody = 64 << 10

// Submitter accepts download jobs.
type Submitter interface {
	Submit(ctx context.Context, rawURL, format string) (string, error)
}

// JobReader reads job records.
type JobReader interface {
	Get(jobID string) (jobregistry.Job, bool)
}

// ArtifactOpener opens a finished job's file.
type ArtifactOpener interface {
	Open(ctx context.Context, jobID string) (*artifact.Object, error)
}

// CredentialGate reports whether submissions may proceed.
type CredentialGate interface {
	Required() bool
	Authorized() bool
	AccessToken(ctx context.Context) (string, error)
}

// VideoVerifier confirms a video is visible to the current credential.
type VideoVerifier interface {
	Lookup(ctx context.Context, rawURL, accessToken string) (*fetcher.VideoInfo, error)
}

// JobHandlers serves the download, progress and file endpoints.
type JobHandlers struct {
	submitter Submitter
	jobs      JobReader
	artifacts ArtifactOpener
	gate      CredentialGate
	verifier  VideoVerifier
	logger    *zap.Logger
}

// JobOption configures JobHandlers.
type JobOption func(*JobHandlers)

// WithCredentialGate rejects submissions with 401 while gate is unauthorized.
func WithCredentialGate(gate CredentialGate) JobOption {
	return func(h *JobHandlers) { h.gate = gate }
}

// WithVideoVerifier looks each URL up before accepting it.
func WithVideoVerifier(v VideoVerifier) JobOption {
	return func(h *JobHandlers) { h.verifier = v }
}

// WithJobLogger sets the logger.
func WithJobLogger(l *zap.Logger) JobOption {
	return func(h *JobHandlers) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewJobHandlers creates the job handlers.
func NewJobHandlers(submitter Submitter, jobs JobReader, artifacts ArtifactOpener, opts ...JobOption) *JobHandlers {
	h := &JobHandlers{
		submitter: submitter,
		jobs:      jobs,
		artifacts: artifacts,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type downloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// DownloadResponse is the body returned for an accepted submission.
type DownloadResponse struct {
	DownloadID string `json:"download_id"`
}

// Download handles POST /download.
func (h *JobHandlers) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.gate != nil && h.gate.Required() && !h.gate.Authorized() {
		respondWithError(w, r, apperrors.NewUnauthorized("Not authorized"))
		return
	}

	var req downloadRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.NewInvalidRequest("request body must be a JSON object"))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		respondWithError(w, r, apperrors.NewInvalidRequest("URL is required").
			WithDetails(map[string]any{"field": "url"}))
		return
	}
	if strings.TrimSpace(req.Format) == "" {
		req.Format = DefaultFormat
	}

	if h.verifier != nil {
		if err := h.verify(ctx, req.URL); err != nil {
			respondWithError(w, r, err)
			return
		}
	}

	id, err := h.submitter.Submit(ctx, req.URL, req.Format)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	h.logger.Debug("Download request accepted",
		zap.String("job_id", id),
		zap.String("url", req.URL),
		zap.String("format", req.Format),
		zap.String("request_id", apperrors.RequestIDFromContext(ctx)))

	writeJSON(w, http.StatusOK, DownloadResponse{DownloadID: id})
}

func (h *JobHandlers) verify(ctx context.Context, rawURL string) error {
	var token string
	if h.gate != nil && h.gate.Required() {
		tok, err := h.gate.AccessToken(ctx)
		if err == nil {
			token = tok
		}
	}
	info, err := h.verifier.Lookup(ctx, rawURL, token)
	if err != nil {
		// Non-YouTube URLs cannot be looked up; let the extractor decide.
		if errors.Is(err, fetcher.ErrInvalidURL) {
			return nil
		}
		h.logger.Info("Video verification failed",
			zap.String("url", rawURL),
			zap.Bool("not_found", errors.Is(err, fetcher.ErrVideoNotFound)),
			zap.Error(err))
		return apperrors.NewInvalidRequest("Could not fetch video information")
	}
	h.logger.Debug("Video verified", zap.String("video_id", info.ID), zap.String("title", info.Title))
	return nil
}

// Progress handles GET /progress/{id}. Unknown ids get the "Not found"
// snapshot with status 200.
func (h *JobHandlers) Progress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusOK, jobregistry.NotFoundSnapshot())
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// GetVideo handles GET /get_video/{id}, streaming the file as an attachment.
func (h *JobHandlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.jobs.Get(id)
	if !ok || job.State != jobregistry.JobStateDone {
		respondWithError(w, r, apperrors.NewNotFound("File not found"))
		return
	}

	obj, err := h.artifacts.Open(r.Context(), id)
	if err != nil {
		if artifact.IsNotFound(err) {
			respondWithError(w, r, apperrors.NewNotFound("File not found"))
			return
		}
		respondWithError(w, r, err)
		return
	}
	defer func() { _ = obj.Body.Close() }()

	// Video files outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", obj.ContentType)
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": obj.Name}))

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, obj.Name, obj.ModTime, rs)
		return
	}

	if obj.Size > 0 {
		hdr.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("Artifact stream interrupted", zap.String("job_id", id), zap.Error(err))
	}
}
