package transport

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/shoptech/shoptech/internal/auth"
	"github.com/shoptech/shoptech/internal/handler"
	"github.com/shoptech/shoptech/pkg/metrics"
)

// NewRouter wires the HTTP surface: checkout endpoints (webhook and confirm
// are public by design), the authenticated orders API and the ops endpoints.
func NewRouter(checkoutH *handler.CheckoutHandler, orderH *handler.OrderHandler, verifier *auth.Verifier) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/checkout", func(r chi.Router) {
		r.With(rateLimit(rate.Limit(1), 5)).Post("/session", checkoutH.CreateSession)
		r.Post("/webhook", checkoutH.Webhook)
		r.Get("/confirm/{orderID}", checkoutH.Confirm)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Get("/", orderH.ListMine)
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AdminOnly)
			r.Get("/all", orderH.AdminList)
			r.Put("/{id}", orderH.AdminSetStatus)
		})
		r.Get("/{id}", orderH.GetByID)
		r.Put("/{id}/cancel", orderH.Cancel)
	})

	return r
}

// rateLimit is a per-remote-address token bucket. Limiters are kept for the
// process lifetime; checkout traffic is low-cardinality enough that the map
// does not need eviction.
func rateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(addr string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[addr]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[addr] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(r.RemoteAddr).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
