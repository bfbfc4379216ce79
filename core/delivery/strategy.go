// Package delivery hands a finished archive to the requester, either in the
// HTTP response or by email.
package delivery

import (
	"context"

	"stem-splitter/core/models"
	"stem-splitter/storage"
)

// Strategy delivers the archive of one job
type Strategy interface {
	Mode() models.DeliveryMode

	// Deliver hands the archive over. The archive is removed with the
	// workspace once Deliver returns.
	Deliver(ctx context.Context, job *models.Job, archive *storage.Archive) error

	// ReportFailure tells the requester the job failed. Strategies without an
	// out-of-band channel return nil.
	ReportFailure(ctx context.Context, job *models.Job, cause error) error
}
