package main

import (
	"context"
	"fmt"

	"stem-splitter/config"
	"stem-splitter/core/delivery"
	"stem-splitter/core/executor"
	"stem-splitter/core/models"
	"stem-splitter/notifications"
	"stem-splitter/providers/aws"
	"stem-splitter/providers/smtp"

	"go.uber.org/zap"
)

// newLogger builds the process logger from config
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

// newSeparationInvoker maps each variant to its configured model
func newSeparationInvoker(cfg config.SeparationConfig, logger *zap.Logger) *executor.SeparationInvoker {
	return executor.NewSeparationInvoker(cfg.Binary, map[models.ModelVariant]string{
		models.VariantGeneral:   cfg.GeneralModel,
		models.VariantFineTuned: cfg.FineTunedModel,
	}, executor.NewExecRunner(), logger)
}

// newMailer picks the configured email backend. The returned error wraps
// models.ErrMailNotConfigured when mail cannot be used.
func newMailer(ctx context.Context, cfg config.MailConfig) (notifications.Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMailNotConfigured, err)
	}

	switch cfg.Backend {
	case "smtp":
		return smtp.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword), nil
	default:
		mailer, err := aws.NewSESMailer(ctx, cfg.SESRegion)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrMailNotConfigured, err)
		}
		return mailer, nil
	}
}

// newEmailStrategy returns nil and the reason when mail is unavailable
func newEmailStrategy(ctx context.Context, cfg config.MailConfig) (delivery.Strategy, error) {
	mailer, err := newMailer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return delivery.NewEmail(mailer, cfg.From, cfg.Operator), nil
}
