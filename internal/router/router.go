// Package router registers the HTTP routes of the API on an Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/boxoffice/internal/handler"
	"github.com/iliyamo/boxoffice/internal/middleware"
	"github.com/iliyamo/boxoffice/internal/model"
)

// Handlers is the set of handlers the routes dispatch to.
type Handlers struct {
	Auth     *handler.AuthHandler
	Pools    *handler.PoolHandler
	Bookings *handler.BookingHandler
	Wallet   *handler.WalletHandler
	Webhooks *handler.WebhookHandler
	Admin    *handler.AdminHandler
}

// Options carries the route-level middleware. Nil entries are skipped.
type Options struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
	Ready     []handler.Pinger
}

// RegisterRoutes registers the health checks and the metrics endpoint. None of them
// require authentication.
func RegisterRoutes(e *echo.Echo, ready ...handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready...))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the session endpoints. Register, login, refresh and
// logout are public; /v1/me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit ...echo.MiddlewareFunc) {
	g := e.Group("/v1/auth", limit...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterPublic registers unauthenticated reads. Availability is the hot
// read path and is fronted by the response cache when one is configured.
func RegisterPublic(e *echo.Echo, p *handler.PoolHandler, cache ...echo.MiddlewareFunc) {
	e.GET("/v1/pools/:id/availability", p.Availability, cache...)
}

// RegisterCustomer registers endpoints for any signed-in user.
func RegisterCustomer(e *echo.Echo, b *handler.BookingHandler, jwtSecret string, limit ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret)}, limit...)
	g := e.Group("/v1", mw...)
	g.POST("/pools/:id/bookings", b.CreateSeatBooking)
	g.POST("/media/purchases", b.CreateMediaPurchase)
	g.GET("/media/:ref/access", b.MediaAccess)
	g.GET("/bookings", b.ListMine)
	g.GET("/bookings/:id", b.Get)
	g.POST("/bookings/:id/cancel", b.Cancel)
}

// RegisterVendor registers inventory, booking and wallet endpoints for
// vendors.
func RegisterVendor(e *echo.Echo, p *handler.PoolHandler, b *handler.BookingHandler, w *handler.WalletHandler, jwtSecret string, limit ...echo.MiddlewareFunc) {
	mw := append([]echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleVendor),
	}, limit...)
	g := e.Group("/v1/vendor", mw...)
	g.POST("/pools", p.CreatePool)
	g.GET("/pools", p.ListVendorPools)
	g.DELETE("/pools/:id", p.DeactivatePool)
	g.GET("/bookings", b.ListVendor)

	g.GET("/wallet", w.Wallet)
	g.GET("/wallet/entries", w.Entries)
	g.POST("/withdrawals", w.RequestWithdrawal)
	g.GET("/withdrawals", w.ListWithdrawals)
	g.POST("/withdrawals/:id/cancel", w.CancelWithdrawal)
}

// RegisterWebhooks registers the gateway callback endpoint. Callers
// authenticate by signature, not by token, and are never rate limited.
func RegisterWebhooks(e *echo.Echo, h *handler.WebhookHandler) {
	e.POST("/v1/webhooks/:gateway", h.Receive)
}

// RegisterAdmin registers operational endpoints for admins.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/v1/admin", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	g.POST("/sweep", a.Sweep)
	g.POST("/ledger/release", a.ReleaseDue)
	g.GET("/accounts/:id/reconcile", a.Reconcile)
	g.POST("/withdrawals/:id/complete", a.CompleteWithdrawal)
	g.POST("/withdrawals/:id/fail", a.FailWithdrawal)
}

// Register wires every group using h and opts.
func Register(e *echo.Echo, h Handlers, opts Options) {
	var limit, cache []echo.MiddlewareFunc
	if opts.RateLimit != nil {
		limit = append(limit, opts.RateLimit)
	}
	if opts.Cache != nil {
		cache = append(cache, opts.Cache)
	}
	RegisterRoutes(e, opts.Ready...)
	RegisterAuth(e, h.Auth, opts.JWTSecret, limit...)
	RegisterPublic(e, h.Pools, cache...)
	RegisterCustomer(e, h.Bookings, opts.JWTSecret, limit...)
	RegisterVendor(e, h.Pools, h.Bookings, h.Wallet, opts.JWTSecret, limit...)
	RegisterWebhooks(e, h.Webhooks)
	RegisterAdmin(e, h.Admin, opts.JWTSecret)
}
