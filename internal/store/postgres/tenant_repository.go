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

// TenantRepository implements tenant.Repository
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, subscription_id, database_name, COALESCE(host, ''), schema_applied,
	COALESCE(last_error, ''), created_by, created_at, updated_at, provisioned_at`

func scanTenant(row pgx.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(
		&t.ID, &t.SubscriptionID, &t.DatabaseName, &t.Host, &t.SchemaApplied,
		&t.LastError, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &t.ProvisionedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts the registry row. The unique constraint on database_name is
// the provisioning race-breaker: the loser gets tenant.ErrDuplicateDatabase.
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, subscription_id, database_name, host, schema_applied, last_error, created_by, created_at, updated_at, provisioned_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10)
	`,
		t.ID, t.SubscriptionID, t.DatabaseName, t.Host, t.SchemaApplied,
		t.LastError, t.CreatedBy, t.CreatedAt, t.UpdatedAt, t.ProvisionedAt,
	)

	if err != nil {
		if uniqueViolation(err, "tenants_database_name_key") {
			return fmt.Errorf("%w: %s", tenant.ErrDuplicateDatabase, t.DatabaseName)
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1
	`, id)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return t, nil
}

// GetByDatabaseName retrieves a tenant by its database name
func (r *TenantRepository) GetByDatabaseName(ctx context.Context, databaseName string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE database_name = $1
	`, databaseName)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by database name: %w", err)
	}

	return t, nil
}

// GetByHost retrieves a tenant by its routing host
func (r *TenantRepository) GetByHost(ctx context.Context, host string) (*tenant.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE host = $1
	`, host)

	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant by host: %w", err)
	}

	return t, nil
}

// Update updates a tenant's mutable registry state
func (r *TenantRepository) Update(ctx context.Context, t *tenant.Tenant) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE tenants
		SET subscription_id = $2, host = NULLIF($3, ''), schema_applied = $4,
		    last_error = NULLIF($5, ''), updated_at = $6, provisioned_at = $7
		WHERE id = $1
	`,
		t.ID, t.SubscriptionID, t.Host, t.SchemaApplied,
		t.LastError, t.UpdatedAt, t.ProvisionedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}

	return nil
}

// Delete removes a tenant's registry row
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenants WHERE id = $1
	`, id)

	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	if result.RowsAffected() == 0 {
		return tenant.ErrTenantNotFound
	}

	return nil
}

// List retrieves tenants ordered by creation time
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`, limit, offset)

	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}
