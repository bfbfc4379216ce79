package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"stem-splitter/core/delivery"
	"stem-splitter/core/models"
	"stem-splitter/core/orchestrator"

	"go.uber.org/zap"
)

// multipartMemory is how much of a multipart body is buffered before spilling to disk
const multipartMemory = 32 << 20

// SeparationHandler serves the two separation endpoints
type SeparationHandler struct {
	orch           *orchestrator.Orchestrator
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewSeparationHandler creates a new separation handler
func NewSeparationHandler(orch *orchestrator.Orchestrator, maxUploadBytes int64, logger *zap.Logger) *SeparationHandler {
	return &SeparationHandler{
		orch:           orch,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// SeparateResponse acknowledges an emailed separation
type SeparateResponse struct {
	Detail string `json:"detail"`
	JobID  string `json:"job_id"`
}

// Separate handles POST /separate
func (h *SeparationHandler) Separate(w http.ResponseWriter, r *http.Request) {
	upload, variant, status, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	strategy := delivery.NewSynchronous(w)
	outcome := h.orch.RunSync(r.Context(), upload, variant, strategy)
	if outcome.Succeeded() || strategy.ResponseStarted() {
		return
	}

	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Detail: outcome.Err.Error(),
		JobID:  outcome.Job.ID,
		Stage:  string(outcome.Err.Stage),
	})
}

// SeparateEmail handles POST /separate/email
func (h *SeparationHandler) SeparateEmail(w http.ResponseWriter, r *http.Request) {
	upload, variant, status, err := h.parseForm(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	recipient := strings.TrimSpace(r.FormValue("email"))
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	addr, err := mail.ParseAddress(recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address: "+err.Error())
		return
	}

	job, err := h.orch.Submit(r.Context(), upload, variant, addr.Address)
	if err != nil {
		if errors.Is(err, models.ErrMailNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("failed to submit job", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to queue job: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, SeparateResponse{
		Detail: fmt.Sprintf("Processing started. Results will be emailed to %s.", job.Recipient),
		JobID:  job.ID,
	})
}

// parseForm reads the uploaded file and model selection. On error it also
// returns the HTTP status to respond with.
func (h *SeparationHandler) parseForm(w http.ResponseWriter, r *http.Request) (orchestrator.Upload, models.ModelVariant, int, error) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return orchestrator.Upload{}, "", http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
		}
		return orchestrator.Upload{}, "", http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return orchestrator.Upload{}, "", http.StatusBadRequest, errors.New("file is required")
		}
		return orchestrator.Upload{}, "", http.StatusBadRequest, fmt.Errorf("read file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return orchestrator.Upload{}, "", http.StatusBadRequest, fmt.Errorf("read file: %w", err)
	}

	variant, err := models.ParseModelVariant(r.FormValue("model"), h.orch.DefaultVariant())
	if err != nil {
		return orchestrator.Upload{}, "", http.StatusBadRequest, err
	}

	return orchestrator.Upload{Filename: header.Filename, Content: content}, variant, 0, nil
}
