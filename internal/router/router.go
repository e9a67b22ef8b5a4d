package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/provly/consumer-gateway/internal/handler"    // import the handlers that implement business logic
	"github.com/provly/consumer-gateway/internal/middleware" // import middleware for JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Map the GET request at path "/healthz" to the Health handler. This
	// endpoint can be used by load balancers or monitoring systems to verify
	// that the service is up and running.
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the user-account endpoints plus the protected
// whoami route. Unauthenticated operations live under /v1/auth, while
// protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("USER", "ADMIN", "STEWARD"))
	auth.GET("/me", a.Me)
}

// RegisterConsumers registers the consumer lifecycle endpoints. Every
// route requires a valid access token; fine-grained capability checks
// (propose, manage, suppress) happen inside the lifecycle controller
// so that permission failures and record visibility follow the
// fail-closed ordering it enforces.
func RegisterConsumers(e *echo.Echo, h *handler.ConsumerHandler, jwtSecret string) {
	g := e.Group("/v1/consumers")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole("USER", "ADMIN", "STEWARD"))

	g.POST("", h.Propose)
	g.GET("", h.List)
	g.GET("/:key", h.Get)
	g.PUT("/:key", h.Update)
	g.POST("/:key/approve", h.Approve)
	g.POST("/:key/reject", h.Reject)
	g.POST("/:key/disable", h.Disable)
	g.POST("/:key/reenable", h.Reenable)
}

// RegisterOAuth registers the protocol endpoints. The signed consumer
// calls (initiate, token) are rate limited per source; the authorize
// leg is driven by a logged-in end user and so runs behind the JWT
// middleware instead.
func RegisterOAuth(e *echo.Echo, h *handler.OAuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/oauth")
	if limit != nil {
		g.POST("/initiate", h.Initiate, limit)
		g.POST("/token", h.Token, limit)
	} else {
		g.POST("/initiate", h.Initiate)
		g.POST("/token", h.Token)
	}
	g.POST("/authorize", h.Authorize, middleware.JWTAuth(jwtSecret))
}
