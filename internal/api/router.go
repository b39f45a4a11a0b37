package api

import (
	"net/http"

	"github.com/swotplanner/backend/internal/auth"
	apperrors "github.com/swotplanner/backend/internal/errors"
	"github.com/swotplanner/backend/internal/health"
	"github.com/swotplanner/backend/internal/logger"
	"github.com/swotplanner/backend/internal/metrics"
	"github.com/swotplanner/backend/internal/middleware"
)

// Config wires the router. Health, Metrics and RateLimiter are optional.
type Config struct {
	AuthHandlers   *auth.Handlers
	Codec          *auth.Codec
	Health         *health.Checker
	Metrics        *metrics.Metrics
	RateLimiter    *middleware.RateLimiter
	Logger         *logger.Logger
	AllowedOrigins []string
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	cfg     Config
}

func NewRouter(cfg Config) *Router {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default().WithComponent("http")
	}
	r := &Router{
		mux: http.NewServeMux(),
		cfg: cfg,
	}
	r.setupRoutes()

	var inner http.Handler = r.mux
	if cfg.Metrics != nil {
		inner = cfg.Metrics.Middleware(r.mux)
	}
	r.handler = middleware.Chain(inner,
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(cfg.Logger),
		middleware.Logging(cfg.Logger),
		middleware.Timing(cfg.Logger),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.Gzip,
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	h := r.cfg.AuthHandlers

	if r.cfg.Health != nil {
		r.mux.HandleFunc("GET /health", r.cfg.Health.Handler)
	}
	if r.cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", r.cfg.Metrics.Handler())
	}

	// Public auth routes, rate limited per client IP
	r.mux.Handle("POST /api/auth/register", r.limited(h.Register))
	r.mux.Handle("POST /api/auth/login", r.limited(h.Login))
	r.mux.Handle("POST /api/auth/refresh-token", r.limited(h.Refresh))
	r.mux.Handle("POST /api/auth/check-email", r.limited(h.CheckEmail))
	r.mux.Handle("POST /api/auth/reset-password", r.limited(h.RequestPasswordReset))
	r.mux.Handle("POST /api/auth/reset-password/confirm", r.limited(h.ConfirmPasswordReset))
	r.mux.Handle("POST /api/auth/verify-email/confirm", r.limited(h.ConfirmEmailVerification))

	// Auth routes (auth required)
	r.mux.Handle("POST /api/auth/logout", r.withAuth(h.Logout))
	r.mux.Handle("POST /api/auth/verify-email", r.withAuth(h.RequestEmailVerification))
	r.mux.Handle("POST /api/auth/set-password", r.withAuth(h.SetPassword))
	r.mux.Handle("GET /api/auth/me", r.withAuth(h.Me))
	r.mux.Handle("PUT /api/auth/profile", r.withAuth(h.UpdateProfile))
	r.mux.Handle("POST /api/auth/profile/photo", r.withAuth(h.UploadPhoto))
	r.mux.Handle("DELETE /api/auth/account", r.withAuth(h.DeleteAccount))

	// Admin routes
	r.mux.Handle("GET /api/admin/users/{id}", r.withRole(auth.RoleAdmin, h.GetUser))

	r.mux.HandleFunc("/", notFound)
}

func (r *Router) limited(h apperrors.Handler) http.Handler {
	return r.cfg.RateLimiter.Middleware(apperrors.HandleFunc(h))
}

func (r *Router) withAuth(h apperrors.Handler) http.Handler {
	return auth.Middleware(r.cfg.Codec)(apperrors.HandleFunc(h))
}

func (r *Router) withRole(role auth.Role, h apperrors.Handler) http.Handler {
	return middleware.Chain(apperrors.HandleFunc(h),
		auth.Middleware(r.cfg.Codec),
		auth.RequireRole(role),
	)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, apperrors.GetRequestID(r.Context()), apperrors.NotFound("Route"))
}
