package processor

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"callflow_backend/internal/calls"
	"callflow_backend/platform/apperr"
	"callflow_backend/platform/httpkit"
	"callflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReprocessStuckRequest is the body of POST /admin/calls/reprocess-stuck.
type ReprocessStuckRequest struct {
	Statuses         []string `json:"statuses" validate:"omitempty,dive,oneof=pending_sync pending_analysis failed"`
	OlderThanMinutes int      `json:"olderThanMinutes" validate:"gte=0"`
	Limit            int      `json:"limit" validate:"gte=0,lte=500"`
	Force            bool     `json:"force"`
	DelayMs          int      `json:"delayMs" validate:"gte=0,lte=60000"`
}

// Options converts the request into sweep options.
func (r ReprocessStuckRequest) Options() ReprocessOptions {
	opts := ReprocessOptions{
		OlderThan: time.Duration(r.OlderThanMinutes) * time.Minute,
		Limit:     r.Limit,
		Force:     r.Force,
		Delay:     time.Duration(r.DelayMs) * time.Millisecond,
	}
	for _, s := range r.Statuses {
		opts.Statuses = append(opts.Statuses, calls.Status(s))
	}
	return opts
}

// Handler serves the admin call endpoints.
type Handler struct {
	proc  *Processor
	store calls.Store
	val   *validator.Validator
}

// NewHandler creates the admin handler.
func NewHandler(proc *Processor, store calls.Store, val *validator.Validator) *Handler {
	return &Handler{proc: proc, store: store, val: val}
}

// externalID reads and checks the :externalId path parameter.
func (h *Handler) externalID(c *gin.Context) (string, bool) {
	externalID := strings.TrimSpace(c.Param("externalId"))
	if err := h.val.Var(externalID, "required,max=128"); err != nil {
		httpkit.HandleError(c, apperr.Validation("validation error", apperr.FieldError{
			Field:   "externalId",
			Message: "must be between 1 and 128 characters",
		}))
		return "", false
	}
	return externalID, true
}

// HandleGetCall returns one call with its processing log.
// GET /api/v1/admin/calls/:externalId
func (h *Handler) HandleGetCall(c *gin.Context) {
	externalID, ok := h.externalID(c)
	if !ok {
		return
	}
	call, err := h.store.FindByExternalID(c.Request.Context(), externalID)
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to load call", err).WithOp("admin.get_call"))
		return
	}
	if call == nil {
		httpkit.HandleError(c, apperr.NotFound("call not found"))
		return
	}
	httpkit.OK(c, call)
}

// HandleReprocess re-runs the pipeline for one call and returns its final state.
// POST /api/v1/admin/calls/:externalId/reprocess?force=true
func (h *Handler) HandleReprocess(c *gin.Context) {
	externalID, ok := h.externalID(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))

	call, err := h.proc.Reprocess(c.Request.Context(), externalID, force)
	if err != nil && call.ID != uuid.Nil {
		// the attempt ran and ended failed; the record says why
		httpkit.JSON(c, http.StatusOK, gin.H{"call": call, "error": err.Error()})
		return
	}
	if httpkit.HandleError(c, mapError(err)) {
		return
	}
	httpkit.OK(c, gin.H{"call": call})
}

// HandleReprocessStuck sweeps stuck calls synchronously and returns the report.
// POST /api/v1/admin/calls/reprocess-stuck
func (h *Handler) HandleReprocessStuck(c *gin.Context) {
	var req ReprocessStuckRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.HandleError(c, apperr.BadRequest("invalid request body"))
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, validator.ToAppError(err))
		return
	}

	report, err := h.proc.ReprocessStuck(c.Request.Context(), req.Options())
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "sweep failed", err).WithOp("admin.reprocess_stuck"))
		return
	}
	httpkit.OK(c, report)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, calls.ErrNotFound):
		return apperr.NotFound("call not found")
	case errors.Is(err, ErrCallBusy):
		return apperr.Conflict("call is being processed")
	default:
		return apperr.Wrap(apperr.KindInternal, "reprocess failed", err).WithOp("admin.reprocess")
	}
}
