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
	"log/slog"
	"net/http"

	"github.com/payrollkit/payrollkit/internal/observability/logger"
)

// Workspace handlers run against the request's switched tenant pool. They
// are the template every tenant-scoped feature handler follows: take the
// pool from the context, never from anywhere else.

// WorkspacePing verifies the request reached its tenant database
// @Summary Workspace ping
// @Description Round-trip the tenant database the request was switched to
// @Tags Workspace
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]string
// @Router /workspace/ping [get]
func (h *Handler) WorkspacePing(w http.ResponseWriter, r *http.Request) {
	pool := TenantPool(r.Context())
	if pool == nil {
		// Bypassed request: there is no tenant database to ping.
		respondJSON(w, http.StatusOK, map[string]any{
			"switched": false,
		})
		return
	}

	var one int
	if err := pool.QueryRow(r.Context(), "SELECT 1").Scan(&one); err != nil {
		slog.ErrorContext(r.Context(), "workspace ping failed", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "workspace database unavailable")
		return
	}

	ref, _ := TenantRefFrom(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"switched":  true,
		"tenant_id": ref.TenantID,
	})
}

// WorkspaceSummary returns headline counts from the tenant's own database
// @Summary Workspace summary
// @Description Employee and payroll item counts from the tenant database
// @Tags Workspace
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]string
// @Router /workspace/summary [get]
func (h *Handler) WorkspaceSummary(w http.ResponseWriter, r *http.Request) {
	pool := TenantPool(r.Context())
	if pool == nil {
		respondError(w, http.StatusNotFound, "no workspace for this account")
		return
	}

	var employees, payrollItems int64
	err := pool.QueryRow(r.Context(), `
		SELECT
			(SELECT count(*) FROM employees),
			(SELECT count(*) FROM payroll_items)
	`).Scan(&employees, &payrollItems)
	if err != nil {
		slog.ErrorContext(r.Context(), "workspace summary failed", logger.Error(err))
		respondError(w, http.StatusServiceUnavailable, "workspace database unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"employees":     employees,
		"payroll_items": payrollItems,
	})
}
