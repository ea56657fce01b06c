/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, copied onto the trace span
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Allowed origins from config
  5. Tracing:    One server span per request (OpenTelemetry)
  6. RateLimit:  Global token bucket, 429 when exhausted (disabled at 0 rps)

ROUTE GROUPS:
  /api/prorata/*        Stateless day-weighted shares
  /api/distribution/*   Stateless cost distribution
  /api/reconcile        Stateless cent correction
  /api/sepa/*           pain.008 / pain.001 export
  /api/invoices/*       Vorschreibung and payments      (X-Organization-ID)
  /api/periods/*        Lock state, monthly collection  (X-Organization-ID)
  /api/settlements/*    Betriebskostenabrechnung        (X-Organization-ID)
  /api/units/*          Occupancy master data           (X-Organization-ID)
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. The organization header scopes data but is
  not a credential; put the service behind an authenticating proxy.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// RouterConfig holds the router-level settings.
type RouterConfig struct {
	CORSOrigins []string

	// RequestsPerSecond <= 0 disables rate limiting.
	RequestsPerSecond float64
	Burst             int

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", OrganizationHeader},
		ExposedHeaders: []string{"Content-Disposition"},
	}))
	r.Use(tracing)
	if cfg.RequestsPerSecond > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)))
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/prorata", func(r chi.Router) {
			r.Post("/shares", h.ProRataShares)
			r.Post("/monthly", h.MonthlyProRata)
		})

		r.Route("/distribution", func(r chi.Router) {
			r.Post("/by-key", h.DistributeByKey)
			r.Post("/vacancy", h.DistributeWithVacancy)
			r.Post("/heating", h.SplitHeatingCosts)
			r.Post("/water", h.DistributeWater)
			r.Post("/mea", h.DistributeByMEA)
			r.Get("/categorize", h.Categorize)
		})

		r.Post("/reconcile", h.Reconcile)

		r.Route("/sepa", func(r chi.Router) {
			r.Post("/direct-debit/validate", h.ValidateDirectDebit)
			r.Post("/direct-debit", h.GenerateDirectDebit)
			r.Post("/credit-transfer", h.GenerateCreditTransfer)
		})

		// Organization-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(requireOrganization)

			r.Route("/invoices", func(r chi.Router) {
				r.Post("/generate", h.GenerateInvoices)
				r.Get("/{id}", h.GetInvoice)
				r.Post("/{id}/payments", h.ApplyPayment)
			})

			r.Route("/periods/{year}/{month}", func(r chi.Router) {
				r.Get("/", h.GetPeriod)
				r.Post("/lock", h.LockPeriod)
				r.Post("/unlock", h.UnlockPeriod)
				r.Post("/direct-debit", h.CollectDirectDebit)
			})

			r.Route("/settlements", func(r chi.Router) {
				r.Post("/run", h.RunSettlement)
				r.Post("/run.xlsx", h.RunSettlementXLSX)
			})

			r.Route("/units/{unit}/occupancies", func(r chi.Router) {
				r.Get("/", h.ListOccupancies)
				r.Post("/", h.SaveOccupancy)
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

var httpTracer = otel.Tracer("github.com/warp/settlement-engine/api")

// tracing opens one server span per request, continuing an incoming
// traceparent. The span is renamed to the matched route pattern once chi
// has routed the request.
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		method := strings.ToUpper(r.Method)
		ctx, span := httpTracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := middleware.GetReqID(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetName("HTTP " + method + " " + route)
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, "request error")
		}
	})
}

// rateLimit rejects requests once the shared token bucket is empty.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
