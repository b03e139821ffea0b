// @title PayrollKit Platform API
// @version 1.0.0
// @description Multi-tenant provisioning and routing control plane for the PayrollKit HR platform
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name session_id

package http

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/observability/metrics"
	"github.com/payrollkit/payrollkit/internal/provision"
	"github.com/payrollkit/payrollkit/internal/session"
	"github.com/payrollkit/payrollkit/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	tenantService    *tenant.Service
	provisionService *provision.Service
	sessionService   *session.Service
	resolver         tenant.Resolver
	pools            PoolSource
	auditLogger      audit.Logger
	sessionConfig    SessionConfig
	operatorSecret   string
	metrics          *metrics.Platform
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// NewHandler creates a new HTTP handler
func NewHandler(
	tenantService *tenant.Service,
	provisionService *provision.Service,
	sessionService *session.Service,
	resolver tenant.Resolver,
	pools PoolSource,
	auditLogger audit.Logger,
	sessionConfig SessionConfig,
	operatorSecret string,
) *Handler {
	return &Handler{
		tenantService:    tenantService,
		provisionService: provisionService,
		sessionService:   sessionService,
		resolver:         resolver,
		pools:            pools,
		auditLogger:      auditLogger,
		sessionConfig:    sessionConfig,
		operatorSecret:   operatorSecret,
	}
}

// WithMetrics attaches the platform instrument set. Optional; a handler
// without metrics records nothing.
func (h *Handler) WithMetrics(p *metrics.Platform) *Handler {
	h.metrics = p
	return h
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints: signup and the payment provider callback. Both
		// run on control-plane data only; no tenant context exists yet.
		r.Post("/applications", h.SubmitApplication)
		r.Post("/payments/callback", h.PaymentCallback)

		// Platform operator endpoints. Operators never switch to a tenant
		// database; everything here is control-plane.
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(RequireOperator)

			r.Get("/applications", h.ListApplications)

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", h.ListTenants)
				r.Post("/provision", h.ProvisionTenant)
				r.Route("/{tenantID}", func(r chi.Router) {
					r.Get("/", h.GetTenant)
					r.Post("/retry-schema", h.RetrySchema)
				})
			})
		})

		// Tenant-scoped endpoints: every request is switched to its
		// tenant's database before the handler runs.
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)
			r.Use(h.TenantSwitchMiddleware)

			r.Get("/workspace/ping", h.WorkspacePing)
			r.Get("/workspace/summary", h.WorkspaceSummary)
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "payrollkit",
	})
}

// Helper functions
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// getIPAddress identifies the client for session records and rate limiting.
// X-Forwarded-For may carry a proxy chain; the first element is the client.
func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
