// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"callflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Call Processing Events
// =============================================================================

// CallAccepted is published when a webhook delivery has been durably stored.
type CallAccepted struct {
	BaseEvent
	CallID         uuid.UUID `json:"callId"`
	ExternalCallID string    `json:"externalCallId"`
	Resumed        bool      `json:"resumed"`
}

func (e CallAccepted) EventName() string { return "calls.call.accepted" }

// CallCompleted is published when the pipeline wrote the completed state.
type CallCompleted struct {
	BaseEvent
	CallID         uuid.UUID `json:"callId"`
	ExternalCallID string    `json:"externalCallId"`
	ClientID       string    `json:"clientId,omitempty"`
	TicketIDs      []string  `json:"ticketIds,omitempty"`
	CallbackID     string    `json:"callbackId,omitempty"`
	DecisionSource string    `json:"decisionSource"`
	PartialFailure bool      `json:"partialFailure"`
}

func (e CallCompleted) EventName() string { return "calls.call.completed" }

// CallFailed is published when an attempt ended in the failed state.
type CallFailed struct {
	BaseEvent
	CallID         uuid.UUID `json:"callId"`
	ExternalCallID string    `json:"externalCallId"`
	Stage          string    `json:"stage"`
	Error          string    `json:"error"`
	Attempts       int       `json:"attempts"`
}

func (e CallFailed) EventName() string { return "calls.call.failed" }
