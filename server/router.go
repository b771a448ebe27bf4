package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/config"
	"github.com/substratehq/substrate/metrics"
	"github.com/substratehq/substrate/server/handlers"
	substrateMiddleware "github.com/substratehq/substrate/server/middleware"
	"github.com/substratehq/substrate/sessions"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/users"
)

// NewRouter creates and configures the HTTP router
func NewRouter(
	store *storage.Store,
	authorizer *access.Authorizer,
	executor *call.Executor,
	sessionManager sessions.Manager,
	userSvc *users.Service,
	serverConfig *config.ServerConfig,
	logger *zap.Logger,
) chi.Router {
	// Initialize metrics
	metrics.RegisterMetrics()

	r := chi.NewRouter()

	// Basic middleware
	r.Use(substrateMiddleware.V1RequestIDMiddleware())
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(serverConfig.RequestTimeout))
	r.Use(substrateMiddleware.V1SecurityHeaders())

	// Custom logging and metrics middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			next.ServeHTTP(ww, req)

			duration := time.Since(start)

			metrics.HTTPRequestsTotal.WithLabelValues(
				req.Method,
				req.URL.Path,
				http.StatusText(ww.Status()),
			).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(
				req.Method,
				req.URL.Path,
			).Observe(duration.Seconds())

			logger.Info("HTTP request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", duration),
				zap.String("remote_addr", req.RemoteAddr))
		})
	})

	// Health check endpoint (no session required)
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
			logger.Error("Failed to write health check response", zap.Error(err))
		}
	})

	// Metrics endpoint (no session required)
	r.Handle("/metrics", promhttp.Handler())

	// API v1 routes with session establishment
	r.Route("/v1", func(r chi.Router) {
		r.Use(substrateMiddleware.V1SessionMiddleware(sessionManager, userSvc, logger))

		limiter := rate.NewLimiter(rate.Limit(serverConfig.RateLimit), serverConfig.RateBurst)
		r.Use(substrateMiddleware.V1RateLimitMiddleware(limiter, logger))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", handlers.V1Login(userSvc, sessionManager, logger))
			r.Post("/logout", handlers.V1Logout(sessionManager, logger))
			r.Get("/whoami", handlers.V1WhoAmI(logger))
		})

		r.Route("/invoke", func(r chi.Router) {
			r.Post("/*", handlers.V1Invoke(executor, logger))
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/*", handlers.V1GetStorage(store, authorizer, logger))
			r.Put("/*", handlers.V1PutStorage(store, authorizer, serverConfig.MaxBodyBytes, logger))
			r.Delete("/*", handlers.V1DeleteStorage(store, authorizer, logger))
		})
		r.Route("/storage-meta", func(r chi.Router) {
			r.Get("/*", handlers.V1HeadStorage(store, authorizer, logger))
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", handlers.V1ListCalls(executor, logger))
			r.Get("/{id}", handlers.V1GetCall(executor, logger))
			r.Post("/{id}/interrupt", handlers.V1InterruptCall(executor, logger))
			r.Get("/{id}/watch", handlers.V1WatchCall(executor, logger))
		})
	})

	logger.Info("HTTP router configured successfully")

	return r
}
