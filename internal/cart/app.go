package cart

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"GoMarketplace/pkg/kit"
)

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry

	MetricsEnabled bool
	MetricsToken   string

	// MutateLimit caps mutating requests per client IP within MutateWindow.
	// Zero disables the limit.
	MutateLimit  int
	MutateWindow time.Duration
}

func NewHandler(st *Store, deps HTTPDeps) http.Handler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.MutateWindow <= 0 {
		deps.MutateWindow = time.Minute
	}

	r := chi.NewRouter()
	setupMiddleware(r, deps)
	setupMetrics(r, deps)

	s := &Server{Log: deps.Log}

	r.Get("/healthz", healthz)
	r.With(Scope(st)).Get("/readyz", s.readyz)

	r.Route("/cart", func(cr chi.Router) {
		cr.Use(Scope(st))
		cr.Get("/", s.list)

		cr.Group(func(mr chi.Router) {
			if deps.MutateLimit > 0 {
				mr.Use(kit.NewIPRateLimiter(deps.MutateLimit, deps.MutateWindow).Middleware)
			}
			mr.Post("/items", s.add)
			mr.Post("/items/{id}/increment", s.apply((*Store).Increment))
			mr.Post("/items/{id}/decrement", s.apply((*Store).Decrement))
			mr.Delete("/items/{id}", s.apply((*Store).Remove))
		})
	})

	return r
}

func setupMiddleware(r *chi.Mux, deps HTTPDeps) {
	r.Use(chimw.RequestID)
	r.Use(kit.Recoverer(deps.Log))
	r.Use(kit.Logging(deps.Log))
}

func setupMetrics(r *chi.Mux, deps HTTPDeps) {
	if deps.Registry == nil {
		return
	}

	metrics := kit.NewMetrics(deps.Registry, deps.Service)
	r.Use(metrics.Middleware(deps.Service))

	if !deps.MetricsEnabled {
		return
	}

	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}
