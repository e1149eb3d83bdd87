// Package router registers the HTTP routes of the reservation API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/bus-seat-reservation/internal/handler"
	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
)

// RegisterRoutes registers routes that need no authentication: liveness,
// readiness and Prometheus metrics.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
	e.GET("/healthz", handler.Health)
	if ready != nil {
		e.GET("/readyz", ready)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the guest-facing trip endpoints.  Availability is
// served through the response cache since search pages poll it for many
// trips at once; seat maps are not, a stale seat map leads to failed holds.
func RegisterPublic(e *echo.Echo, t *handler.TripsHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/trips/availability", t.Availability, cache)
	e.GET("/v1/trips/:id/seats", t.SeatStatus)
}

// RegisterCheckout registers checkout session endpoints under
// /v1/checkout.  All routes require a valid JWT with the CUSTOMER role.
// Hold creation additionally passes the token bucket limiter.
func RegisterCheckout(e *echo.Echo, h *handler.CheckoutHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/checkout",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole("CUSTOMER"),
	)
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions/:token", h.GetSession)
	g.POST("/sessions/:token/holds", h.Hold, limit)
	g.DELETE("/sessions/:token/holds", h.Release)
	g.POST("/sessions/:token/promote", h.Promote)
	g.POST("/sessions/:token/confirm", h.Confirm)
}
