package smtp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"stem-splitter/notifications"

	"github.com/wneessen/go-mail"
)

const (
	dialTimeout = 10 * time.Second
	sendTimeout = 60 * time.Second
)

// Mailer delivers messages through an SMTP relay
type Mailer struct {
	host    string
	port    int
	opts    []mail.Option
	timeout time.Duration
	now     func() time.Time
}

// NewMailer creates an SMTP mailer. STARTTLS is used when the relay offers it;
// PLAIN auth is only used when username is set.
func NewMailer(host string, port int, username, password string) *Mailer {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTimeout(dialTimeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	return &Mailer{
		host:    host,
		port:    port,
		opts:    opts,
		timeout: sendTimeout,
		now:     time.Now,
	}
}

// Send delivers msg to every To and Bcc address. It returns once ctx is done
// even if the relay stops responding.
func (m *Mailer) Send(ctx context.Context, msg notifications.Message) error {
	composed, err := notifications.Compose(msg, m.now())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	client, err := mail.NewClient(m.host, m.opts...)
	if err != nil {
		return fmt.Errorf("smtp client for %s: %w", addr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- client.DialAndSendWithContext(ctx, composed)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp send via %s: %w: %w", addr, ctxErr, err)
		}
		return fmt.Errorf("smtp send via %s: %w", addr, err)
	case <-ctx.Done():
		return fmt.Errorf("smtp send via %s: %w", addr, ctx.Err())
	}
}

var _ notifications.Mailer = (*Mailer)(nil)
