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

package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/payrollkit/payrollkit/internal/audit"
)

// Service provides tenant registry and signup application business logic.
// It never touches tenant databases; provisioning owns those.
type Service struct {
	repo        Repository
	appRepo     ApplicationRepository
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, appRepo ApplicationRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		appRepo:     appRepo,
		auditLogger: auditLogger,
	}
}

// GetTenant retrieves a tenant by ID
func (s *Service) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

// GetTenantByDatabaseName retrieves a tenant by its database name
func (s *Service) GetTenantByDatabaseName(ctx context.Context, databaseName string) (*Tenant, error) {
	return s.repo.GetByDatabaseName(ctx, databaseName)
}

// ListTenants lists tenants with pagination
func (s *Service) ListTenants(ctx context.Context, limit, offset int) ([]*Tenant, error) {
	return s.repo.List(ctx, limit, offset)
}

// SubmitApplication records a new signup application with a generated
// transaction reference and a pending payment status.
func (s *Service) SubmitApplication(ctx context.Context, companyName, email, requestedPlan string) (*Application, error) {
	if strings.TrimSpace(companyName) == "" {
		return nil, fmt.Errorf("company name is required")
	}
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("email is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate application id: %w", err)
	}
	txRef, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transaction reference: %w", err)
	}

	now := time.Now()
	app := &Application{
		ID:             id.String(),
		CompanyName:    companyName,
		Email:          email,
		RequestedPlan:  requestedPlan,
		PaymentStatus:  PaymentPending,
		TransactionRef: txRef.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.appRepo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeApplicationSubmitted,
		Resource: app.ID,
		Metadata: map[string]any{"company_name": companyName, "requested_plan": requestedPlan},
	})

	return app, nil
}

// ConfirmPayment settles an application's payment status from the gateway
// callback. The Pending -> {Paid, Failed} transition happens exactly once;
// the pending precondition is enforced inside Repository.Settle, not here,
// so concurrent callbacks for the same reference race at the storage layer
// and exactly one wins.
func (s *Service) ConfirmPayment(ctx context.Context, transactionRef string, status PaymentStatus) (*Application, error) {
	if status != PaymentPaid && status != PaymentFailed {
		return nil, fmt.Errorf("invalid settlement status: %s", status)
	}

	app, err := s.appRepo.Settle(ctx, transactionRef, status)
	if err != nil {
		return nil, err
	}

	eventType := audit.TypePaymentConfirmed
	if status == PaymentFailed {
		eventType = audit.TypePaymentFailed
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		Resource: app.ID,
		Metadata: map[string]any{"transaction_ref": transactionRef},
	})

	return app, nil
}

// GetApplicationByTransactionRef retrieves an application by its transaction reference
func (s *Service) GetApplicationByTransactionRef(ctx context.Context, ref string) (*Application, error) {
	return s.appRepo.GetByTransactionRef(ctx, ref)
}

// ListApplications lists signup applications with pagination
func (s *Service) ListApplications(ctx context.Context, limit, offset int) ([]*Application, error) {
	return s.appRepo.List(ctx, limit, offset)
}
