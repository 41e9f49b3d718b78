// Package webhook receives call deliveries from the voice gateway, validates
// them and hands them to the call processor.
package webhook

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/internal/voicegateway"
	"callflow_backend/platform/apperr"
	"callflow_backend/platform/validator"

	playground "github.com/go-playground/validator/v10"
)

// durationTolerance is how far duration_seconds may drift from end - start.
const durationTolerance = 2 * time.Second

// Payload is the call delivery the voice gateway posts after a call ends.
type Payload struct {
	CallID            string                     `json:"call_id" validate:"required"`
	ConversationID    string                     `json:"conversation_id" validate:"required,max=128"`
	AgentID           string                     `json:"agent_id" validate:"required"`
	StartTime         string                     `json:"start_time" validate:"required,iso8601"`
	EndTime           string                     `json:"end_time" validate:"required,iso8601"`
	DurationSeconds   *int                       `json:"duration_seconds" validate:"required,gte=0"`
	Status            string                     `json:"status" validate:"required"`
	Cost              *int                       `json:"cost" validate:"required,gte=0"`
	CallSuccessful    *bool                      `json:"call_successful" validate:"required"`
	ParticipantCount  *ParticipantCount          `json:"participant_count" validate:"required"`
	Transcripts       []voicegateway.WireSegment `json:"transcripts" validate:"omitempty,dive"`
	Summary           string                     `json:"summary,omitempty"`
	TerminationReason string                     `json:"termination_reason,omitempty"`
	RecordingURL      string                     `json:"recording_url,omitempty" validate:"omitempty,url"`
}

// ParticipantCount counts messages per side. Every counter must be present.
type ParticipantCount struct {
	AgentMessages *int `json:"agent_messages" validate:"required,gte=0"`
	UserMessages  *int `json:"user_messages" validate:"required,gte=0"`
	TotalMessages *int `json:"total_messages" validate:"required,gte=0"`
}

// RegisterValidation installs the cross-field rules of the payload.
func RegisterValidation(val *validator.Validator) {
	val.RegisterStructValidation(validateTimes, Payload{})
	val.RegisterStructValidation(validateCounts, ParticipantCount{})
}

func validateTimes(sl playground.StructLevel) {
	p, ok := sl.Current().Interface().(Payload)
	if !ok {
		return
	}
	start, err := validator.ParseISO8601(p.StartTime)
	if err != nil {
		return
	}
	end, err := validator.ParseISO8601(p.EndTime)
	if err != nil {
		return
	}
	if !end.After(start) {
		sl.ReportError(p.EndTime, "end_time", "EndTime", "gtfield", "start_time")
		return
	}
	if p.DurationSeconds == nil {
		return
	}
	diff := time.Duration(*p.DurationSeconds)*time.Second - end.Sub(start)
	if math.Abs(float64(diff)) > float64(durationTolerance) {
		sl.ReportError(*p.DurationSeconds, "duration_seconds", "DurationSeconds", "duration_window", durationTolerance.String())
	}
}

func validateCounts(sl playground.StructLevel) {
	pc, ok := sl.Current().Interface().(ParticipantCount)
	if !ok || pc.AgentMessages == nil || pc.UserMessages == nil || pc.TotalMessages == nil {
		return
	}
	if *pc.TotalMessages != *pc.AgentMessages+*pc.UserMessages {
		sl.ReportError(*pc.TotalMessages, "total_messages", "TotalMessages", "eqfield", "agent_messages + user_messages")
	}
}

// Decode parses body into a Payload. Type mismatches become field errors.
func Decode(body []byte) (Payload, error) {
	var p Payload
	if len(strings.TrimSpace(string(body))) == 0 {
		return p, apperr.BadRequest("request body is empty")
	}
	if err := json.Unmarshal(body, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			return p, apperr.Validation("validation error", apperr.FieldError{
				Field:   field,
				Message: "must be of type " + typeErr.Type.String(),
			})
		}
		return p, apperr.BadRequest("invalid JSON body")
	}
	return p, nil
}

// Validate checks p against every payload rule.
func Validate(val *validator.Validator, p Payload) error {
	if err := val.Struct(p); err != nil {
		return validator.ToAppError(err)
	}
	return nil
}

// Intake converts a validated payload into a processor intake.
func (p Payload) Intake(raw []byte) processor.Intake {
	call := calls.Call{
		ExternalCallID:    strings.TrimSpace(p.ConversationID),
		GatewayCallID:     strings.TrimSpace(p.CallID),
		AgentID:           p.AgentID,
		TerminationReason: firstNonEmpty(p.TerminationReason, p.Status),
		Summary:           p.Summary,
		Transcript:        voicegateway.ToSegments(p.Transcripts),
	}
	if t, err := validator.ParseISO8601(p.StartTime); err == nil {
		t = t.UTC()
		call.StartedAt = &t
	}
	if t, err := validator.ParseISO8601(p.EndTime); err == nil {
		t = t.UTC()
		call.EndedAt = &t
	}
	if p.DurationSeconds != nil {
		call.DurationSeconds = *p.DurationSeconds
	}
	if p.Cost != nil {
		call.CostCents = *p.Cost
	}
	if p.CallSuccessful != nil {
		call.CallSuccessful = *p.CallSuccessful
	}
	if pc := p.ParticipantCount; pc != nil {
		call.AgentMessages = derefInt(pc.AgentMessages)
		call.UserMessages = derefInt(pc.UserMessages)
		call.TotalMessages = derefInt(pc.TotalMessages)
	}
	if p.RecordingURL != "" {
		url := p.RecordingURL
		call.RecordingURL = &url
	}
	return processor.Intake{Call: call, RawPayload: raw}
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
