// Package notification provides event handlers for sending operational alerts
// in response to call processing events.
// This module subscribes to events and inverts the dependency: the processor
// does not need to know about mail providers or templates.
package notification

import (
	"context"
	"time"

	"callflow_backend/internal/email"
	"callflow_backend/internal/events"
	"callflow_backend/platform/logger"

	"golang.org/x/time/rate"
)

const (
	// alertBurst alerts may go out at once; after that one per alertInterval.
	alertBurst    = 10
	alertInterval = time.Minute
)

// Module handles all notification-related event subscriptions.
type Module struct {
	sender     email.Sender
	recipients []string
	log        *logger.Logger
	limiter    *rate.Limiter
}

// New creates a new notification module.
func New(sender email.Sender, recipients []string, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{
		sender:     sender,
		recipients: recipients,
		log:        log,
		limiter:    rate.NewLimiter(rate.Every(alertInterval), alertBurst),
	}
}

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.CallFailed{}.EventName(), m)
	bus.Subscribe(events.CallCompleted{}.EventName(), m)
}

// Handle routes events to the specific handler methods.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallFailed:
		return m.handleCallFailed(ctx, e)
	case events.CallCompleted:
		m.handleCallCompleted(e)
		return nil
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleCallFailed(ctx context.Context, e events.CallFailed) error {
	if len(m.recipients) == 0 {
		return nil
	}
	if !m.limiter.Allow() {
		m.log.Warn("notification: alert rate exceeded, dropping alert", "externalCallId", e.ExternalCallID)
		return nil
	}

	err := m.sender.SendCallFailedAlert(ctx, m.recipients, email.CallFailedAlert{
		ExternalCallID: e.ExternalCallID,
		Stage:          e.Stage,
		Error:          e.Error,
		Attempts:       e.Attempts,
		OccurredAt:     e.OccurredAt(),
	})
	if err != nil {
		m.log.ExternalCallFailed("smtp", "call failed alert", err)
		return err
	}
	m.log.Info("notification: call failed alert sent", "externalCallId", e.ExternalCallID, "recipients", len(m.recipients))
	return nil
}

func (m *Module) handleCallCompleted(e events.CallCompleted) {
	if !e.PartialFailure {
		return
	}
	m.log.Warn("notification: call completed with action errors",
		"externalCallId", e.ExternalCallID,
		"tickets", len(e.TicketIDs),
		"decisionSource", e.DecisionSource,
	)
}

var _ events.Handler = (*Module)(nil)
