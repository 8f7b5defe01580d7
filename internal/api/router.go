package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-mealkit/internal/common"
	"github.com/noah-isme/backend-mealkit/internal/obs"
)

// RouterOptions configures the HTTP surface around the handlers.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *obs.HTTPMetrics
	RequestLogger  obs.RequestLogger
	Redis          *redis.Client
	IdemTTL        time.Duration
}

// NewRouter wires the billing endpoints with the shared middleware
// stack: request id, CORS, route pattern capture, tracing, metrics,
// structured logs, and redis-backed idempotency on writes.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		}))
	}
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	if opts.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.Metrics}.Middleware)
	}
	r.Use(opts.RequestLogger.Middleware)

	idem := common.Idem{R: opts.Redis, TTL: opts.IdemTTL}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(idem.Middleware)
			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/{orderID}/charge", h.ChargeOrder)
			r.Post("/orders/{orderID}/refund", h.RefundOrder)
			r.Post("/orders/{orderID}/partial-refund", h.PartialRefundOrder)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)
			r.Post("/discounts/evaluate", h.EvaluateDiscount)
		})
		r.Get("/customers/{customerID}/order-summary", h.OrderSummary)
		r.Get("/customers/{customerID}/children/{childID}/orders/latest", h.LatestOrder)
	})

	return r
}
