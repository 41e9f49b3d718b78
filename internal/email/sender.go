// Package email delivers operational alert mail.
package email

import (
	"context"
	"time"

	"callflow_backend/platform/config"
)

// CallFailedAlert describes a call whose processing attempt failed.
type CallFailedAlert struct {
	ExternalCallID string
	Stage          string
	Error          string
	Attempts       int
	OccurredAt     time.Time
}

type Sender interface {
	SendCallFailedAlert(ctx context.Context, recipients []string, alert CallFailedAlert) error
}

type NoopSender struct{}

func (NoopSender) SendCallFailedAlert(ctx context.Context, recipients []string, alert CallFailedAlert) error {
	return nil
}

// NewSender returns an SMTP sender when alert mail is configured and a
// NoopSender otherwise.
func NewSender(cfg config.SMTPConfig) Sender {
	if !cfg.IsAlertEmailEnabled() {
		return NoopSender{}
	}
	return NewSMTPSender(cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(), cfg.GetSMTPFrom(), "Procesador de llamadas")
}
