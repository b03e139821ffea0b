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
	"strconv"

	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

// SubmitApplicationRequest represents signup data
type SubmitApplicationRequest struct {
	CompanyName   string `json:"company_name" binding:"required" example:"Acme Payroll Ltd"`
	Email         string `json:"email" binding:"required" example:"owner@acme.example"`
	RequestedPlan string `json:"requested_plan" binding:"required" example:"plan-starter"`
}

// SubmitApplication handles a new tenant signup
// @Summary Submit a signup application
// @Description Register a company's interest; the tenant is created after payment
// @Tags Applications
// @Accept json
// @Produce json
// @Param request body SubmitApplicationRequest true "Signup Data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Router /applications [post]
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req SubmitApplicationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CompanyName == "" || req.Email == "" || req.RequestedPlan == "" {
		respondError(w, http.StatusBadRequest, "company_name, email and requested_plan are required")
		return
	}

	app, err := h.tenantService.SubmitApplication(r.Context(), req.CompanyName, req.Email, req.RequestedPlan)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to submit application", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to submit application")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"application_id":        app.ID,
		"transaction_reference": app.TransactionRef,
		"payment_status":        app.PaymentStatus,
	})
}

// PaymentCallbackRequest represents the payment provider's notification
type PaymentCallbackRequest struct {
	TransactionReference string `json:"transaction_reference" binding:"required"`
	Status               string `json:"status" binding:"required" example:"paid"`
}

// PaymentCallback handles the payment provider's settlement notification.
// Keyed by transaction reference, so provider retries are idempotent: a
// replay of a settled payment is acknowledged without re-provisioning.
// @Summary Payment provider callback
// @Description Settle a signup payment; a paid settlement provisions the tenant
// @Tags Applications
// @Accept json
// @Produce json
// @Param request body PaymentCallbackRequest true "Settlement Data"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /payments/callback [post]
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req PaymentCallbackRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := tenant.PaymentStatus(req.Status)
	if !status.IsValid() || status == tenant.PaymentPending {
		respondError(w, http.StatusBadRequest, "status must be paid or failed")
		return
	}

	app, err := h.tenantService.ConfirmPayment(r.Context(), req.TransactionReference, status)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrApplicationNotFound):
			respondError(w, http.StatusNotFound, "unknown transaction reference")
		case errors.Is(err, tenant.ErrPaymentAlreadySettled):
			// Provider retry of a settled payment: acknowledge, don't re-run.
			respondJSON(w, http.StatusOK, map[string]any{
				"transaction_reference": req.TransactionReference,
				"settled":               true,
			})
		default:
			slog.ErrorContext(r.Context(), "failed to confirm payment",
				logger.TransactionRef(req.TransactionReference),
				logger.Error(err),
			)
			respondError(w, http.StatusInternalServerError, "failed to confirm payment")
		}
		return
	}

	response := map[string]any{
		"application_id":        app.ID,
		"transaction_reference": app.TransactionRef,
		"payment_status":        app.PaymentStatus,
	}

	if status == tenant.PaymentPaid {
		t, err := h.provisionService.ProvisionFromApplication(r.Context(), app.TransactionRef, "payment_callback")
		if err != nil {
			// The payment is recorded; provisioning is retryable by an
			// operator. The provider must not retry the payment over this.
			slog.ErrorContext(r.Context(), "provisioning after payment failed",
				logger.TransactionRef(app.TransactionRef),
				logger.Error(err),
			)
			response["provisioning"] = "pending"
			respondJSON(w, http.StatusOK, response)
			return
		}
		response["tenant_id"] = t.ID
	}

	respondJSON(w, http.StatusOK, response)
}

// ListApplications lists signup applications
// @Summary List applications
// @Description List signup applications, newest first
// @Tags Applications
// @Produce json
// @Security CookieAuth
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} map[string]any
// @Router /applications [get]
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	apps, err := h.tenantService.ListApplications(r.Context(), limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list applications", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}

	items := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		items = append(items, map[string]any{
			"application_id":        app.ID,
			"company_name":          app.CompanyName,
			"email":                 app.Email,
			"requested_plan":        app.RequestedPlan,
			"payment_status":        app.PaymentStatus,
			"transaction_reference": app.TransactionRef,
			"tenant_created":        app.TenantCreated,
			"created_at":            app.CreatedAt,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"applications": items,
		"limit":        limit,
		"offset":       offset,
	})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
