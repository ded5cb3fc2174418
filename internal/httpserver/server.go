package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/idempotency"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/portfoliodash/payserver/internal/payments"
	"github.com/portfoliodash/payserver/internal/ratelimit"
	"github.com/portfoliodash/payserver/internal/storage"
)

var serverStartTime = time.Now()

// paymentService is the part of payments.Service the handlers use.
type paymentService interface {
	VerifyPayment(ctx context.Context, c payments.Confirmation) (payments.Outcome, error)
	CreateOrder(ctx context.Context, req payments.OrderRequest) (storage.Order, error)
	GetPayment(ctx context.Context, paymentID string) (storage.PaymentRecord, error)
	HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (payments.WebhookResult, error)
	KeyID() string
	DefaultCurrency() string
}

// Dependencies are the collaborators the router needs.
// Gatherer defaults to the global Prometheus registry.
type Dependencies struct {
	Payments         paymentService
	IdempotencyStore idempotency.Store
	Breakers         *circuitbreaker.Manager
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	Logger           zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	payments paymentService
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with its router.
func New(cfg *config.Config, deps Dependencies) *Server {
	router := chi.NewRouter()
	s := &Server{
		handlers: newHandlers(cfg, deps),
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
	ConfigureRouter(router, cfg, deps)
	return s
}

func newHandlers(cfg *config.Config, deps Dependencies) handlers {
	return handlers{
		cfg:      cfg,
		payments: deps.Payments,
		breakers: deps.Breakers,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// ConfigureRouter attaches payserver routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Dependencies) {
	if router == nil {
		return
	}
	handler := newHandlers(cfg, deps)

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", idempotency.HeaderKey, logger.RequestIDHeader},
			ExposedHeaders:   []string{logger.RequestIDHeader, idempotency.ReplayHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(middleware.RealIP)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.Recoverer)
	router.Use(httpMetricsMiddleware(deps.Metrics))

	rateLimitCfg := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/health", handler.health)
		r.Get(prefix+"/api/payment-config", handler.paymentConfig)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	idempotencyMW := func(next http.Handler) http.Handler { return next }
	if deps.IdempotencyStore != nil {
		idempotencyMW = idempotency.Middleware(deps.IdempotencyStore, idempotency.DefaultTTL)
	}

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/api/verify-payment", handler.verifyPayment)
		r.With(idempotencyMW).Post(prefix+"/api/create-order", handler.createOrder)
		r.Get(prefix+"/api/payments/{paymentID}", handler.getPayment)

		// Webhook URL is registered with Razorpay, so it is not versioned.
		r.Post(prefix+"/api/webhooks/razorpay", handler.razorpayWebhook)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
