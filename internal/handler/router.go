package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Auth          *AuthHandler
	OAuth         *OAuthHandler
	Health        *HealthHandler
	Limiter       *IPRateLimiter
	Logger        *zap.Logger
	AllowedOrigin []string
	RequireHTTPS  bool
}

// NewRouter mounts the auth API under /auth with the shared middleware stack.
func NewRouter(rc RouterConfig) chi.Router {
	router := chi.NewRouter()

	if rc.RequireHTTPS {
		router.Use(requireHTTPS)
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(rc.Logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	origins := rc.AllowedOrigin
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", rc.Health.Live)
	router.Get("/health/ready", rc.Health.Ready)

	limited := func(next http.Handler) http.Handler { return next }
	if rc.Limiter != nil {
		limited = rc.Limiter.Middleware
	}
	router.Route("/auth", func(r chi.Router) {
		rc.Auth.RegisterRoutes(r, limited)
		rc.OAuth.RegisterRoutes(r, limited)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, Response{Error: "endpoint not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	})

	return router
}
