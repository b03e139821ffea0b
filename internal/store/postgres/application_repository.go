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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

// ApplicationRepository implements tenant.ApplicationRepository
type ApplicationRepository struct {
	db *DB
}

// NewApplicationRepository creates a new application repository
func NewApplicationRepository(db *DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, company_name, email, requested_plan, payment_status,
	transaction_ref, tenant_created, created_at, updated_at`

func scanApplication(row pgx.Row) (*tenant.Application, error) {
	var app tenant.Application
	err := row.Scan(
		&app.ID, &app.CompanyName, &app.Email, &app.RequestedPlan, &app.PaymentStatus,
		&app.TransactionRef, &app.TenantCreated, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// Create inserts a signup application. The unique constraint on
// transaction_ref makes payment callbacks idempotent at the storage layer.
func (r *ApplicationRepository) Create(ctx context.Context, app *tenant.Application) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenant_applications (id, company_name, email, requested_plan, payment_status, transaction_ref, tenant_created, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		app.ID, app.CompanyName, app.Email, app.RequestedPlan, app.PaymentStatus,
		app.TransactionRef, app.TenantCreated, app.CreatedAt, app.UpdatedAt,
	)

	if err != nil {
		if uniqueViolation(err, "tenant_applications_transaction_ref_key") {
			return fmt.Errorf("%w: %s", tenant.ErrDuplicateTransactionRef, app.TransactionRef)
		}
		return fmt.Errorf("failed to create application: %w", err)
	}

	return nil
}

// GetByID retrieves an application by ID
func (r *ApplicationRepository) GetByID(ctx context.Context, id string) (*tenant.Application, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM tenant_applications
		WHERE id = $1
	`, id)

	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	return app, nil
}

// GetByTransactionRef retrieves an application by its payment transaction reference
func (r *ApplicationRepository) GetByTransactionRef(ctx context.Context, ref string) (*tenant.Application, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM tenant_applications
		WHERE transaction_ref = $1
	`, ref)

	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrApplicationNotFound
		}
		return nil, fmt.Errorf("failed to get application by transaction ref: %w", err)
	}

	return app, nil
}

// Settle flips a pending application to its terminal payment status. The
// pending precondition is part of the UPDATE predicate, so two concurrent
// callbacks for the same transaction reference cannot both match the row;
// the loser sees zero rows and is told the payment is already settled.
func (r *ApplicationRepository) Settle(ctx context.Context, ref string, status tenant.PaymentStatus) (*tenant.Application, error) {
	row := r.db.pool.QueryRow(ctx, `
		UPDATE tenant_applications
		SET payment_status = $2, updated_at = now()
		WHERE transaction_ref = $1 AND payment_status = $3
		RETURNING `+applicationColumns+`
	`, ref, status, tenant.PaymentPending)

	app, err := scanApplication(row)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to settle payment: %w", err)
	}

	existing, lookupErr := r.GetByTransactionRef(ctx, ref)
	if lookupErr != nil {
		return nil, lookupErr
	}
	return nil, fmt.Errorf("%w: %s is %s", tenant.ErrPaymentAlreadySettled, ref, existing.PaymentStatus)
}

// Update updates an application's payment and promotion state
func (r *ApplicationRepository) Update(ctx context.Context, app *tenant.Application) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenant_applications
		SET payment_status = $2, tenant_created = $3, updated_at = $4
		WHERE id = $1
	`, app.ID, app.PaymentStatus, app.TenantCreated, app.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}

	if result.RowsAffected() == 0 {
		return tenant.ErrApplicationNotFound
	}

	return nil
}

// List retrieves applications ordered by creation time, newest first
func (r *ApplicationRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Application, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+applicationColumns+`
		FROM tenant_applications
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*tenant.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}

	return apps, rows.Err()
}
