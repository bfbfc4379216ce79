package notifications

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/wneessen/go-mail"
)

// Compose validates msg and builds the go-mail message every backend sends.
// Attachments must exist now; their content is read when the message is written.
func Compose(msg Message, now time.Time) (*mail.Msg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, fmt.Errorf("bcc address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetDateWithValue(now)
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	for _, att := range msg.Attachments {
		if _, err := os.Stat(att.Path); err != nil {
			return nil, fmt.Errorf("attach %s: %w", att.Filename, err)
		}
		opts := []mail.FileOption{mail.WithFileName(att.Filename)}
		if att.ContentType != "" {
			opts = append(opts, mail.WithFileContentType(mail.ContentType(att.ContentType)))
		}
		m.AttachFile(att.Path, opts...)
	}
	return m, nil
}

// Render composes msg and returns the raw RFC 5322 bytes. Bcc addresses are
// not written to the headers.
func Render(msg Message, now time.Time) ([]byte, error) {
	m, err := Compose(msg, now)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write message: %w", err)
	}
	return buf.Bytes(), nil
}
