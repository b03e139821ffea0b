// Copyright 2026 The PayrollKit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/dbconn"
	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

// Tenant Context Principles:
// 1. Tenant context is derived EXCLUSIVELY from the authenticated principal
//    (session or operator token) or the registered request host.
// 2. No header, query parameter, or request body can select a tenant.
// 3. There is no process-wide current tenant; the switched pool travels in
//    the request context and dies with the request.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware establishes the request principal. Credentials themselves
// come from outside this service: tenant users carry a session cookie issued
// at login by the identity provider, operators carry an HS256 bearer token.
// This middleware only decodes; it never decides tenant routing.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reject tenant selection via header outright, authenticated or not.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header spoofing attempt detected",
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)
			respondError(w, http.StatusBadRequest, "X-Tenant-ID header is not allowed; tenant is derived from the authenticated principal")
			return
		}

		if token := bearerToken(r); token != "" {
			p, err := h.operatorPrincipal(token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid operator token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		if err := h.sessionService.Refresh(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to refresh session", logger.Error(err))
		}

		p := tenant.Principal{
			UserID:   sess.UserID,
			Role:     sess.Role,
			TenantID: sess.TenantID,
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		ctx = context.WithValue(ctx, sessionIDKey, sess.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator rejects any principal that is not a platform operator.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || !p.IsOperator() {
			respondError(w, http.StatusForbidden, "platform operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PoolSource hands out a live pool for a tenant database.
type PoolSource interface {
	Tenant(ctx context.Context, databaseName string) (*pgxpool.Pool, error)
}

// TenantSwitchMiddleware binds the request to its tenant's database pool.
//
// Per request the switch moves through exactly one of three outcomes:
// switched (resolver returned a ref and the pool dialed), bypassed (resolver
// returned nil: operator, or an audited grace state), or failed. On failure
// the request never reaches the downstream handler: a request meant for a
// tenant database must not run against anything else. An unreachable
// database additionally terminates the session, so a stale cookie cannot
// keep retrying into a dead route.
func (h *Handler) TenantSwitchMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		ref, err := h.resolver.Resolve(r.Context(), tenant.ResolveRequest{
			Principal: p,
			Host:      r.Host,
		})
		if err != nil {
			h.switchFailed(w, r, p, "", err)
			return
		}
		if ref == nil {
			// Bypassed: control-plane data only.
			h.metrics.RecordSwitch(r.Context(), "bypassed")
			next.ServeHTTP(w, r)
			return
		}

		pool, err := h.pools.Tenant(r.Context(), ref.DatabaseName)
		if err != nil {
			h.switchFailed(w, r, p, ref.TenantID, err)
			return
		}

		h.metrics.RecordSwitch(r.Context(), "switched")
		ctx := context.WithValue(r.Context(), tenantRefKey, ref)
		ctx = context.WithValue(ctx, tenantPoolKey, pool)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) switchFailed(w http.ResponseWriter, r *http.Request, p tenant.Principal, tenantID string, err error) {
	h.metrics.RecordSwitch(r.Context(), "failed")
	slog.ErrorContext(r.Context(), "tenant switch failed",
		logger.TenantID(tenantID),
		logger.UserID(p.UserID),
		logger.Error(err),
	)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTenantSwitchFailed,
		TenantID:  tenantID,
		ActorID:   p.UserID,
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
		Metadata:  map[string]any{"cause": err.Error()},
	})

	if errors.Is(err, dbconn.ErrConnectionUnavailable) {
		// The route exists but its database is unreachable. Kill the
		// session so the client re-authenticates once the database is back.
		if sessionID := GetSessionID(r.Context()); sessionID != "" {
			if terr := h.sessionService.Terminate(r.Context(), sessionID); terr != nil {
				slog.ErrorContext(r.Context(), "failed to terminate session after switch failure", logger.Error(terr))
			}
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:     audit.TypeSessionTerminated,
				TenantID: tenantID,
				ActorID:  p.UserID,
				Metadata: map[string]any{"reason": "tenant database unreachable"},
			})
			h.clearSessionCookie(w)
		}
		respondError(w, http.StatusServiceUnavailable, "cannot reach your organization's data - contact an administrator")
		return
	}

	if errors.Is(err, tenant.ErrTenantNotFound) {
		respondError(w, http.StatusNotFound, "no organization registered for this address")
		return
	}

	respondError(w, http.StatusInternalServerError, "failed to route request")
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

// operatorPrincipal validates an HS256 operator token and maps its claims to
// a principal. Only the platform_operator role is accepted on this path.
func (h *Handler) operatorPrincipal(token string) (tenant.Principal, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.operatorSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return tenant.Principal{}, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return tenant.Principal{}, errors.New("invalid token claims")
	}

	role, _ := claims["role"].(string)
	if role != tenant.RolePlatformOperator {
		return tenant.Principal{}, errors.New("token does not carry the operator role")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return tenant.Principal{}, errors.New("token has no subject")
	}

	return tenant.Principal{UserID: sub, Role: tenant.RolePlatformOperator}, nil
}
