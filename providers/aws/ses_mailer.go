package aws

import (
	"context"
	"fmt"
	"time"

	"stem-splitter/notifications"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// sesAPI is the subset of the SES v2 client used for sending
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer sends raw MIME messages through Amazon SES
type SESMailer struct {
	client sesAPI
	now    func() time.Time
}

const credentialsTimeout = 5 * time.Second

// NewSESMailer creates an SES mailer using the default AWS credential chain.
// Credentials are resolved up front so a missing chain fails at startup.
func NewSESMailer(ctx context.Context, region string) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if cfg.Credentials == nil {
		return nil, fmt.Errorf("resolve aws credentials: no provider configured")
	}
	credCtx, cancel := context.WithTimeout(ctx, credentialsTimeout)
	defer cancel()
	if _, err := cfg.Credentials.Retrieve(credCtx); err != nil {
		return nil, fmt.Errorf("resolve aws credentials: %w", err)
	}

	return &SESMailer{
		client: sesv2.NewFromConfig(cfg),
		now:    time.Now,
	}, nil
}

// Send delivers msg, including attachments, as a raw email
func (m *SESMailer) Send(ctx context.Context, msg notifications.Message) error {
	raw, err := notifications.Render(msg, m.now())
	if err != nil {
		return err
	}

	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			BccAddresses: msg.Bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	if out.MessageId == nil {
		return fmt.Errorf("ses send: empty message id")
	}
	return nil
}

var _ notifications.Mailer = (*SESMailer)(nil)
