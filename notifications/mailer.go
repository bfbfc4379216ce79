// Package notifications defines the email capability used for asynchronous
// delivery and the MIME encoding shared by every mail backend.
package notifications

import (
	"context"
	"fmt"
	"strings"

	"stem-splitter/core/models"
)

// Message is one outbound email
type Message struct {
	From        string
	To          []string
	Bcc         []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Attachment is a file carried by a message
type Attachment struct {
	Filename    string
	ContentType string
	Path        string // Read at send time
}

// Mailer sends messages through a concrete email backend
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Recipients returns every envelope address of the message
func (m Message) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Bcc...)
	return all
}

// Validate checks the fields every backend needs
func (m Message) Validate() error {
	if strings.TrimSpace(m.From) == "" {
		return fmt.Errorf("%w: sender address is empty", models.ErrMailNotConfigured)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("message %q has no recipients", m.Subject)
	}
	for _, addr := range m.Recipients() {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid recipient address %q", addr)
		}
	}
	return nil
}
