package webhook

import (
	"context"
	"errors"
	"net/http"

	"callflow_backend/internal/calls"
	"callflow_backend/internal/processor"
	"callflow_backend/platform/apperr"
	"callflow_backend/platform/httpkit"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	maxBodyBytes = 5 << 20

	errReadBody = "could not read request body"
	errBusy     = "call is being processed"
	errStore    = "call could not be stored, retry later"
)

// CallProcessor is the part of the processor the webhook drives.
type CallProcessor interface {
	Accept(ctx context.Context, in processor.Intake) (processor.AcceptResult, error)
	Process(ctx context.Context, externalCallID string, opts processor.ProcessOptions) (calls.Call, error)
}

// AcceptResponse is returned by the asynchronous entry point.
type AcceptResponse struct {
	CallID         uuid.UUID    `json:"callId"`
	ExternalCallID string       `json:"externalCallId"`
	Status         calls.Status `json:"status"`
	Duplicate      bool         `json:"duplicate"`
	Resumed        bool         `json:"resumed"`
}

// ResultResponse is returned by the synchronous entry point.
type ResultResponse struct {
	CallID          uuid.UUID    `json:"callId"`
	ExternalCallID  string       `json:"externalCallId"`
	Status          calls.Status `json:"status"`
	Duplicate       bool         `json:"duplicate"`
	ClientID        *string      `json:"clientId,omitempty"`
	TicketIDs       []string     `json:"ticketIds"`
	CallbackID      *string      `json:"callbackId,omitempty"`
	AnalysisSummary *string      `json:"analysisSummary,omitempty"`
	Error           *string      `json:"error,omitempty"`
}

func resultFrom(call calls.Call, duplicate bool) ResultResponse {
	ticketIDs := call.TicketIDs
	if ticketIDs == nil {
		ticketIDs = []string{}
	}
	return ResultResponse{
		CallID:          call.ID,
		ExternalCallID:  call.ExternalCallID,
		Status:          call.Status,
		Duplicate:       duplicate,
		ClientID:        call.ClientID,
		TicketIDs:       ticketIDs,
		CallbackID:      call.CallbackID,
		AnalysisSummary: call.AnalysisSummary,
		Error:           call.ErrorMessage,
	}
}

// Handler handles webhook HTTP requests.
type Handler struct {
	proc       CallProcessor
	dispatcher processor.Dispatcher
	val        *validator.Validator
	log        *logger.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(proc CallProcessor, dispatcher processor.Dispatcher, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{proc: proc, dispatcher: dispatcher, val: val, log: log}
}

// HandleCall durably accepts a delivery and queues it.
// POST /api/v1/webhook/calls
func (h *Handler) HandleCall(c *gin.Context) {
	intake, ok := h.parse(c)
	if !ok {
		return
	}

	res, err := h.proc.Accept(c.Request.Context(), intake)
	if httpkit.HandleError(c, mapError(err)) {
		return
	}

	if !res.Duplicate {
		if err := h.dispatcher.Dispatch(c.Request.Context(), res.Call.ExternalCallID); err != nil {
			// the call is stored; the stuck-call sweep picks it up
			h.log.WithCall(res.Call.ExternalCallID).Error("webhook: dispatch failed", "error", err)
		}
	}

	resp := AcceptResponse{
		CallID:         res.Call.ID,
		ExternalCallID: res.Call.ExternalCallID,
		Status:         res.Call.Status,
		Duplicate:      res.Duplicate,
		Resumed:        res.Resumed,
	}
	if res.Duplicate {
		httpkit.OK(c, resp)
		return
	}
	httpkit.Accepted(c, resp)
}

// HandleCallSync accepts a delivery and runs the pipeline inline.
// POST /api/v1/webhook/calls/sync
func (h *Handler) HandleCallSync(c *gin.Context) {
	intake, ok := h.parse(c)
	if !ok {
		return
	}

	res, err := h.proc.Accept(c.Request.Context(), intake)
	if httpkit.HandleError(c, mapError(err)) {
		return
	}
	if res.Duplicate {
		httpkit.OK(c, resultFrom(res.Call, true))
		return
	}

	call, err := h.proc.Process(c.Request.Context(), res.Call.ExternalCallID, processor.ProcessOptions{})
	if err != nil && call.ID == uuid.Nil {
		httpkit.HandleError(c, mapError(err))
		return
	}
	// a failed attempt is a final status, not a transport error
	httpkit.OK(c, resultFrom(call, false))
}

func (h *Handler) parse(c *gin.Context) (processor.Intake, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errReadBody))
		return processor.Intake{}, false
	}

	payload, err := Decode(body)
	if httpkit.HandleError(c, err) {
		return processor.Intake{}, false
	}
	if httpkit.HandleError(c, Validate(h.val, payload)) {
		return processor.Intake{}, false
	}
	return payload.Intake(body), true
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, processor.ErrCallBusy):
		return apperr.Conflict(errBusy)
	case errors.Is(err, calls.ErrNotFound):
		return apperr.NotFound("call not found")
	default:
		return apperr.Wrap(apperr.KindUnavailable, errStore, err).WithOp("webhook")
	}
}
