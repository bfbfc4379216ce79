package delivery

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"

	"stem-splitter/core/models"
	"stem-splitter/storage"
)

// Synchronous writes the archive as the HTTP response body
type Synchronous struct {
	w http.ResponseWriter

	written bool
}

// NewSynchronous creates a strategy bound to one response
func NewSynchronous(w http.ResponseWriter) *Synchronous {
	return &Synchronous{w: w}
}

// Mode returns DeliverySynchronous
func (s *Synchronous) Mode() models.DeliveryMode {
	return models.DeliverySynchronous
}

// Deliver streams the whole archive to the client. Range and conditional
// request headers are ignored.
func (s *Synchronous) Deliver(ctx context.Context, job *models.Job, archive *storage.Archive) error {
	f, err := os.Open(archive.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	h := s.w.Header()
	h.Set("Content-Type", storage.ArchiveMediaType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": storage.ArchiveName}))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("X-Job-ID", job.ID)

	s.written = true
	s.w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(s.w, f); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return ctx.Err()
}

// ReportFailure is a no-op; the HTTP layer turns the failure into an error response
func (s *Synchronous) ReportFailure(context.Context, *models.Job, error) error {
	return nil
}

// ResponseStarted reports whether Deliver began writing the response
func (s *Synchronous) ResponseStarted() bool {
	return s.written
}

var _ Strategy = (*Synchronous)(nil)
