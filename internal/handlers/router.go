package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// routeGroup is one mounted prefix under /api/v1. A nil registrar answers 501.
type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers

	orders     routeGroup
	orderItems routeGroup
	admin      routeGroup
	webhooks   routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the API router: request id, real ip and timeout middleware, the health
// probes at the root and the order, order item, admin and webhook groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		orders:     routeGroup{path: "/orders"},
		orderItems: routeGroup{path: "/order-items"},
		admin:      routeGroup{path: "/admin"},
		webhooks:   routeGroup{path: "/webhooks"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range []routeGroup{cfg.orders, cfg.orderItems, cfg.admin, cfg.webhooks} {
			api.Route(group.path, group.mount)
		}
	})
	return r
}

func (g routeGroup) mount(r chi.Router) {
	for _, mw := range g.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	if g.registrar == nil {
		notImplemented := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s is not enabled", g.path), http.StatusNotImplemented))
		}
		r.HandleFunc("/", notImplemented)
		r.HandleFunc("/*", notImplemented)
		r.MethodNotAllowed(notImplemented)
		return
	}
	g.registrar(r)
}

// WithMiddlewares appends global middleware after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts customer order routes at /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders.registrar = reg
	}
}

// WithOrderItemRoutes mounts customer design decisions at /api/v1/order-items.
func WithOrderItemRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orderItems.registrar = reg
	}
}

// WithAdminRoutes mounts operator routes at /api/v1/admin.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin.registrar = reg
	}
}

// WithWebhookRoutes mounts payment provider callbacks at /api/v1/webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.registrar = reg
	}
}

// WithWebhookMiddlewares adds middleware to the webhook group only.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.webhooks.middlewares = append(cfg.webhooks.middlewares, mw...)
	}
}
