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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/provision"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

func tenantResponse(t *tenant.Tenant) map[string]any {
	return map[string]any{
		"tenant_id":       t.ID,
		"subscription_id": t.SubscriptionID,
		"database_name":   t.DatabaseName,
		"host":            t.Host,
		"schema_applied":  t.SchemaApplied,
		"last_error":      t.LastError,
		"created_at":      t.CreatedAt,
		"provisioned_at":  t.ProvisionedAt,
	}
}

// ListTenants lists registered tenants
// @Summary List tenants
// @Description List the tenant registry
// @Tags Tenants
// @Produce json
// @Security CookieAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]any
// @Router /tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	tenants, err := h.tenantService.ListTenants(r.Context(), limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list tenants", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}

	items := make([]map[string]any, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, tenantResponse(t))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tenants": items,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetTenant returns a single tenant registry entry
// @Summary Get tenant
// @Description Retrieve one tenant's registry entry
// @Tags Tenants
// @Produce json
// @Security CookieAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID} [get]
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	t, err := h.tenantService.GetTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get tenant", logger.TenantID(tenantID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get tenant")
		return
	}

	respondJSON(w, http.StatusOK, tenantResponse(t))
}

// ProvisionTenantRequest represents a direct provisioning request
type ProvisionTenantRequest struct {
	SubscriptionID string `json:"subscription_id" binding:"required" example:"plan-starter"`
	DatabaseName   string `json:"database_name" binding:"required" example:"acme_payroll"`
}

// ProvisionTenant provisions a tenant database directly
// @Summary Provision tenant
// @Description Create an isolated database for a tenant and apply its schema
// @Tags Tenants
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ProvisionTenantRequest true "Provisioning Data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /tenants/provision [post]
func (h *Handler) ProvisionTenant(w http.ResponseWriter, r *http.Request) {
	var req ProvisionTenantRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, _ := PrincipalFrom(r.Context())

	start := time.Now()
	t, err := h.provisionService.Provision(r.Context(), req.SubscriptionID, req.DatabaseName, p.UserID)
	h.metrics.RecordProvision(r.Context(), time.Since(start).Seconds(), err == nil)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidDatabaseName):
			respondError(w, http.StatusBadRequest, "invalid database name")
		case errors.Is(err, tenant.ErrDuplicateDatabase):
			respondError(w, http.StatusConflict, "database name already in use")
		case errors.Is(err, provision.ErrSchemaApplyFailed):
			// The tenant exists but is not routable yet; surface that state
			// so the operator can retry the schema rather than re-provision.
			respondError(w, http.StatusConflict, "tenant created but schema failed to apply; retry the schema")
		default:
			slog.ErrorContext(r.Context(), "failed to provision tenant",
				logger.Database(req.DatabaseName),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "failed to provision tenant")
		}
		return
	}

	respondJSON(w, http.StatusCreated, tenantResponse(t))
}

// RetrySchema re-applies schema to a half-provisioned tenant
// @Summary Retry tenant schema
// @Description Re-apply pending schema migrations for a tenant whose provisioning failed mid-way
// @Tags Tenants
// @Produce json
// @Security CookieAuth
// @Param tenantID path string true "Tenant ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /tenants/{tenantID}/retry-schema [post]
func (h *Handler) RetrySchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	t, err := h.provisionService.RetrySchema(r.Context(), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			respondError(w, http.StatusNotFound, "tenant not found")
		case errors.Is(err, provision.ErrSchemaApplyFailed):
			respondError(w, http.StatusConflict, "schema apply failed again; see tenant last_error")
		default:
			slog.ErrorContext(r.Context(), "failed to retry schema", logger.TenantID(tenantID), logger.Error(err))
			respondError(w, http.StatusInternalServerError, "failed to retry schema")
		}
		return
	}

	respondJSON(w, http.StatusOK, tenantResponse(t))
}
