package processor

import (
	"callflow_backend/internal/calls"
	apphttp "callflow_backend/internal/http"
	"callflow_backend/platform/validator"
)

// Module exposes the admin call endpoints.
type Module struct {
	handler *Handler
}

// NewModule creates the admin module for proc.
func NewModule(proc *Processor, store calls.Store, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(proc, store, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "calls-admin"
}

// RegisterRoutes mounts admin routes. Nothing is mounted when admin auth is
// not configured.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	if ctx.Admin == nil {
		return
	}
	admin := ctx.Admin.Group("/calls")
	admin.POST("/reprocess-stuck", m.handler.HandleReprocessStuck)
	admin.GET("/:externalId", m.handler.HandleGetCall)
	admin.POST("/:externalId/reprocess", m.handler.HandleReprocess)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
