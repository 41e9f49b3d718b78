package scheduler

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
)

const TaskProcessCall = "calls.process"

const TaskReprocessStuck = "calls.reprocess_stuck"

type ProcessCallPayload struct {
	ExternalCallID string `json:"externalCallId"`
	Force          bool   `json:"force,omitempty"`
}

// ReprocessStuckPayload narrows a sweep. Zero values use the processor
// defaults.
type ReprocessStuckPayload struct {
	Statuses         []string `json:"statuses,omitempty"`
	OlderThanMinutes int      `json:"olderThanMinutes,omitempty"`
	Limit            int      `json:"limit,omitempty"`
	Force            bool     `json:"force,omitempty"`
}

func NewProcessCallTask(payload ProcessCallPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.ExternalCallID) == "" {
		return nil, errors.New("scheduler: external call id is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessCall, data), nil
}

func ParseProcessCallPayload(task *asynq.Task) (ProcessCallPayload, error) {
	var payload ProcessCallPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessCallPayload{}, err
	}
	if strings.TrimSpace(payload.ExternalCallID) == "" {
		return ProcessCallPayload{}, errors.New("scheduler: external call id is required")
	}
	return payload, nil
}

func NewReprocessStuckTask(payload ReprocessStuckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReprocessStuck, data), nil
}

func ParseReprocessStuckPayload(task *asynq.Task) (ReprocessStuckPayload, error) {
	var payload ReprocessStuckPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ReprocessStuckPayload{}, err
	}
	return payload, nil
}
