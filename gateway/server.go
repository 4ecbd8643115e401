package gateway

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zapspay/gateway/middleware"
	"zapspay/ledger"
	"zapspay/observability"
	"zapspay/sponsor"
	"zapspay/storage"
)

// maxBodyBytes caps request bodies on every route.
const maxBodyBytes = 1 << 20

// Config wires the public API surface. Engine and Submitter may be nil in
// reduced deployments; the routes that need them answer 503.
type Config struct {
	Store      *storage.Store
	Builder    *sponsor.Builder
	Engine     *sponsor.Engine
	Submitter  *sponsor.Submitter
	Network    ledger.Network
	Compliance ComplianceChecker
	Hub        *Hub
	Auth       middleware.AuthConfig
	RateLimit  middleware.RateLimitConfig
	Logger     *slog.Logger
}

// Server is the HTTP front of the relay: request validation, compliance
// pre-checks, persistence, and the sponsorship pipeline behind JSON
// endpoints.
type Server struct {
	store      *storage.Store
	builder    *sponsor.Builder
	engine     *sponsor.Engine
	submitter  *sponsor.Submitter
	network    ledger.Network
	compliance ComplianceChecker
	hub        *Hub
	auth       *middleware.Authenticator
	limiter    *middleware.RateLimiter
	metrics    *observability.GatewayMetrics
	log        *slog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if cfg.Builder == nil {
		return nil, errors.New("gateway: builder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Compliance == nil {
		cfg.Compliance = NewDenylist()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub()
	}
	metrics := observability.Gateway()
	return &Server{
		store:      cfg.Store,
		builder:    cfg.Builder,
		engine:     cfg.Engine,
		submitter:  cfg.Submitter,
		network:    cfg.Network,
		compliance: cfg.Compliance,
		hub:        cfg.Hub,
		auth:       middleware.NewAuthenticator(cfg.Auth, logger),
		limiter:    middleware.NewRateLimiter(cfg.RateLimit, metrics),
		metrics:    metrics,
		log:        logger.With("component", "gateway"),
	}, nil
}

// Hub exposes the status hub so the reconciliation path can publish into
// the same streams the API serves.
func (s *Server) Hub() *Hub { return s.hub }

// Handler assembles the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(bodyLimit)
		r.Use(s.auth.Middleware())
		r.Use(s.limiter.Middleware("v1"))

		r.With(s.measure("payments_create"), s.idempotent).
			Post("/payments", s.handleCreatePayment)
		r.With(s.measure("payments_get")).
			Get("/payments/{id}", s.handleGetPayment)
		r.Get("/payments/{id}/stream", s.handleStreamPayment)
		r.With(s.measure("payments_qr")).
			Post("/payments/qr", s.handleQRPayload)
		r.With(s.measure("payments_nfc")).
			Post("/payments/nfc", s.handleNFCPayload)

		r.With(s.measure("transfers_create"), s.idempotent).
			Post("/transfers", s.handleCreateTransfer)
		r.With(s.measure("transfers_get")).
			Get("/transfers/{id}", s.handleGetTransfer)

		r.With(s.measure("transactions_submit"), s.idempotent).
			Post("/transactions", s.handleSubmitTransaction)
	})

	return otelhttp.NewHandler(r, "zaps-gateway")
}

func (s *Server) measure(route string) func(http.Handler) http.Handler {
	return middleware.Metrics(s.metrics, route)
}

func (s *Server) idempotent(next http.Handler) http.Handler {
	return middleware.WithIdempotency(s.store, next)
}

func bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
