// Package router builds the gin engine from the registered modules.
package router

import (
	"net/http"
	"time"

	apphttp "callflow_backend/internal/http"
	"callflow_backend/platform/httpkit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSecond = 20
	defaultRateBurst     = 40
)

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	AuthEnforced bool   `json:"authEnforced"`
}

// New creates the engine with shared middleware and every module's routes.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpkit.RequestID())
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())
	if mw := corsMiddleware(app.Config); mw != nil {
		engine.Use(mw)
	}

	limiter := httpkit.NewIPRateLimiter(rate.Limit(defaultRatePerSecond), defaultRateBurst, app.Logger)

	engine.GET("/api/health", healthHandler(app))

	v1 := engine.Group("/api/v1")
	v1.Use(limiter.RateLimit())

	rc := &apphttp.RouterContext{
		Engine: engine,
		V1:     v1,
		Config: app.Config,
	}
	if app.Config.GetJWTAccessSecret() != "" {
		rc.Admin = v1.Group("/admin")
		rc.Admin.Use(httpkit.AuthRequired(app.Config), httpkit.RequireRole("admin"))
	} else {
		app.Logger.Warn("router: JWT_ACCESS_SECRET not set; admin routes disabled")
	}

	for _, module := range app.Modules {
		module.RegisterRoutes(rc)
		app.Logger.Info("router: module registered", "module", module.Name())
	}

	return engine
}

// corsMiddleware returns nil when no origin is allowed.
func corsMiddleware(cfg apphttp.RouterConfig) gin.HandlerFunc {
	if !cfg.GetCORSAllowAll() && len(cfg.GetCORSOrigins()) == 0 {
		return nil
	}
	corsCfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Webhook-API-Key", httpkit.HeaderRequestID},
		ExposeHeaders:    []string{httpkit.HeaderRequestID},
		AllowCredentials: cfg.GetCORSAllowCreds(),
		MaxAge:           12 * time.Hour,
	}
	if cfg.GetCORSAllowAll() {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.GetCORSOrigins()
	}
	return cors.New(corsCfg)
}

func healthHandler(app *apphttp.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := HealthResponse{
			Status:       "ok",
			Database:     "not_configured",
			AuthEnforced: app.Config.IsWebhookAuthEnforced(),
		}
		if app.Health != nil {
			if err := app.Health.Ping(c.Request.Context()); err != nil {
				resp.Status = "degraded"
				resp.Database = "unreachable"
				httpkit.JSON(c, http.StatusServiceUnavailable, resp)
				return
			}
			resp.Database = "ok"
		}
		httpkit.OK(c, resp)
	}
}
