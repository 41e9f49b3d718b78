package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// SMTPSender implements the Sender interface using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) buildMessage(recipients []string, subject, htmlContent string) (*gomail.Msg, error) {
	if len(recipients) == 0 {
		return nil, errors.New("smtp: no recipients")
	}
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)
	return msg, nil
}

func (s *SMTPSender) send(ctx context.Context, msg *gomail.Msg) error {
	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendCallFailedAlert(ctx context.Context, recipients []string, alert CallFailedAlert) error {
	msg, err := s.callFailedMessage(recipients, alert)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *SMTPSender) callFailedMessage(recipients []string, alert CallFailedAlert) (*gomail.Msg, error) {
	content, err := renderEmailTemplate("call_failed.html", callFailedEmailData{
		baseEmailData: baseEmailData{
			Title:      "Fallo en el procesamiento",
			Heading:    "Una llamada no se pudo procesar",
			Subheading: "La llamada ha quedado en estado failed y requiere reproceso.",
		},
		ExternalCallID: alert.ExternalCallID,
		Stage:          alert.Stage,
		Attempts:       alert.Attempts,
		OccurredAt:     alert.OccurredAt.UTC().Format(time.RFC3339),
		Error:          alert.Error,
	})
	if err != nil {
		return nil, err
	}
	return s.buildMessage(recipients, fmt.Sprintf(subjectCallFailedFmt, alert.ExternalCallID), content)
}
