package webhook

import (
	apphttp "callflow_backend/internal/http"
	"callflow_backend/internal/processor"
	"callflow_backend/platform/logger"
	"callflow_backend/platform/validator"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler *Handler
	keys    *KeySet
}

// NewModule creates the webhook module. val gets the payload rules registered.
func NewModule(proc CallProcessor, dispatcher processor.Dispatcher, keys *KeySet, val *validator.Validator, log *logger.Logger) *Module {
	RegisterValidation(val)
	if !keys.Enforced() {
		log.Warn("webhook: no API keys configured; webhook authentication disabled")
	}
	return &Module{
		handler: NewHandler(proc, dispatcher, val, log),
		keys:    keys,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	group.Use(APIKeyAuthMiddleware(m.keys))
	group.POST("/calls", m.handler.HandleCall)
	group.POST("/calls/sync", m.handler.HandleCallSync)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
