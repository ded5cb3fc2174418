package payserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/portfoliodash/payserver/internal/callbacks"
	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/httpserver"
	"github.com/portfoliodash/payserver/internal/idempotency"
	"github.com/portfoliodash/payserver/internal/lifecycle"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/portfoliodash/payserver/internal/payments"
	"github.com/portfoliodash/payserver/internal/razorpay"
	"github.com/portfoliodash/payserver/internal/storage"
)

// Version is reported in logs.
var Version = "dev"

// ErrEmbedded is returned by ListenAndServe when the app was mounted on a caller's router.
var ErrEmbedded = errors.New("payserver: app is embedded in an external router")

// App wires the payserver components for standalone serving or embedding.
type App struct {
	Config           *config.Config
	Store            storage.Store
	Notifier         callbacks.Notifier
	Payments         *payments.Service
	Breakers         *circuitbreaker.Manager
	IdempotencyStore *idempotency.MemoryStore
	Logger           zerolog.Logger

	handler         http.Handler
	server          *httpserver.Server
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	notifier   callbacks.Notifier
	orders     payments.OrderCreator
	router     chi.Router
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	logger     *zerolog.Logger
}

// WithStore sets a custom storage backend. The caller keeps ownership of it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier injects a payment callback notifier.
func WithNotifier(notifier callbacks.Notifier) Option {
	return func(o *options) {
		o.notifier = notifier
	}
}

// WithOrderCreator replaces the Razorpay Orders API client.
func WithOrderCreator(orders payments.OrderCreator) Option {
	return func(o *options) {
		o.orders = orders
	}
}

// WithRouter mounts payserver routes on an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegistry registers metrics on registry and serves /metrics from it.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = registry
		o.gatherer = registry
	}
}

// WithLogger sets the application logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &l
	}
}

// NewApp assembles payserver services. It fails fast on a missing key secret.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("payserver: config required")
	}

	optState := options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
	}
	if optState.logger != nil {
		app.Logger = *optState.logger
	} else {
		app.Logger = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "payserver",
			Version:     Version,
			Environment: cfg.Logging.Environment,
		})
	}
	app.resourceManager.WithLogger(app.Logger)

	metricsCollector := metrics.New(optState.registerer)
	app.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStore(cfg.Storage, metricsCollector)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
		if cfg.Storage.Backend == "memory" {
			app.Logger.Warn().Msg("payserver.memory_store: payments are not persisted across restarts")
		}
	}

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		notifier, err := newNotifier(cfg.Callbacks, app.Logger, metricsCollector, app.Breakers)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Notifier = notifier
		if closer, ok := notifier.(io.Closer); ok {
			app.resourceManager.Register("callbacks", closer)
		}
	}

	orders := optState.orders
	if orders == nil {
		orders = razorpay.NewClient(cfg.Razorpay,
			razorpay.WithBreakers(app.Breakers),
			razorpay.WithClientMetrics(metricsCollector),
		)
	}

	svc, err := payments.NewService(cfg.Razorpay, app.Store, orders, app.Notifier, metricsCollector)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Payments = svc
	if !svc.WebhooksEnabled() {
		app.Logger.Info().Msg("payserver.webhooks_disabled: RAZORPAY_WEBHOOK_SECRET not set")
	}

	app.IdempotencyStore = idempotency.NewMemoryStore(0)
	app.resourceManager.Register("idempotency-store", app.IdempotencyStore)

	deps := httpserver.Dependencies{
		Payments:         svc,
		IdempotencyStore: app.IdempotencyStore,
		Breakers:         app.Breakers,
		Metrics:          metricsCollector,
		Gatherer:         optState.gatherer,
		Logger:           app.Logger,
	}
	if optState.router != nil {
		httpserver.ConfigureRouter(optState.router, cfg, deps)
		app.handler = optState.router
	} else {
		app.server = httpserver.New(cfg, deps)
		app.handler = app.server.Handler()
	}

	return app, nil
}

func newNotifier(cfg config.CallbacksConfig, l zerolog.Logger, m *metrics.Metrics, breakers *circuitbreaker.Manager) (callbacks.Notifier, error) {
	callbackOpts := []callbacks.RetryOption{
		callbacks.WithRetryLogger(l),
		callbacks.WithMetrics(m),
		callbacks.WithBreakers(breakers),
	}
	if cfg.PaymentSuccessURL != "" && cfg.DLQEnabled {
		dlqStore, err := callbacks.NewFileDLQStore(cfg.DLQPath)
		if err != nil {
			return nil, fmt.Errorf("init callback DLQ: %w", err)
		}
		callbackOpts = append(callbackOpts, callbacks.WithDLQStore(dlqStore))
	}
	return callbacks.NewRetryableClient(cfg, callbackOpts...), nil
}

// Handler exposes the routes as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ListenAndServe serves on the configured address until Shutdown.
func (a *App) ListenAndServe() error {
	if a.server == nil {
		return ErrEmbedded
	}
	return a.server.ListenAndServe()
}

// Shutdown drains in-flight requests, then releases owned resources.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	return app.Handler(), app.Shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding payserver.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
