package delivery

import (
	"context"
	"fmt"
	"strings"

	"stem-splitter/core/models"
	"stem-splitter/notifications"
	"stem-splitter/storage"
)

const (
	SuccessSubject = "Separated stems"
	FailureSubject = "Stem separation failed"
)

// Email delivers archives as mail attachments
type Email struct {
	mailer   notifications.Mailer
	from     string
	operator string
}

// NewEmail creates an email strategy; operator may be empty
func NewEmail(mailer notifications.Mailer, from, operator string) *Email {
	return &Email{
		mailer:   mailer,
		from:     from,
		operator: operator,
	}
}

// Mode returns DeliveryAsynchronous
func (e *Email) Mode() models.DeliveryMode {
	return models.DeliveryAsynchronous
}

// Deliver mails the archive to the job's recipient
func (e *Email) Deliver(ctx context.Context, job *models.Job, archive *storage.Archive) error {
	msg := notifications.Message{
		From:    e.from,
		To:      []string{job.Recipient},
		Subject: SuccessSubject,
		Body:    successBody(job, archive),
		Attachments: []notifications.Attachment{
			{
				Filename:    storage.ArchiveName,
				ContentType: storage.ArchiveMediaType,
				Path:        archive.Path,
			},
		},
	}
	return e.mailer.Send(ctx, msg)
}

// ReportFailure mails a plain-text failure description to the recipient and,
// when configured, a blind copy to the operator
func (e *Email) ReportFailure(ctx context.Context, job *models.Job, cause error) error {
	msg := notifications.Message{
		From:    e.from,
		To:      []string{job.Recipient},
		Subject: FailureSubject,
		Body:    failureBody(job, cause),
	}
	if e.operator != "" {
		msg.Bcc = []string{e.operator}
	}
	return e.mailer.Send(ctx, msg)
}

func successBody(job *models.Job, archive *storage.Archive) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The stems for %s are attached as %s.\n\n", job.Filename, storage.ArchiveName)
	for _, entry := range archive.Entries {
		fmt.Fprintf(&b, "  %s\n", entry)
	}
	fmt.Fprintf(&b, "\nJob: %s\n", job.ID)
	return b.String()
}

func failureBody(job *models.Job, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stem separation for %s could not be completed.\n\n", job.Filename)
	fmt.Fprintf(&b, "Error: %v\n\n", cause)
	fmt.Fprintf(&b, "Job: %s\n", job.ID)
	return b.String()
}

var _ Strategy = (*Email)(nil)
