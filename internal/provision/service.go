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

// Package provision creates tenant databases: registry claim, physical
// CREATE DATABASE, schema application. Failure after the database exists is
// recorded as an inspectable half-provisioned state, never auto-rolled-back.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

var (
	// ErrSchemaApplyFailed indicates the tenant schema could not be applied
	// after the physical database and registry row were created. Both are
	// preserved; the tenant is retryable via RetrySchema or the batch runner.
	ErrSchemaApplyFailed = errors.New("schema apply failed")

	// ErrPaymentRequired indicates an application cannot be promoted because
	// its payment has not settled as paid.
	ErrPaymentRequired = errors.New("application payment is not settled as paid")
)

// DatabaseAdmin performs physical database DDL through the control-plane
// connection.
type DatabaseAdmin interface {
	DatabaseExists(ctx context.Context, name string) (bool, error)
	CreateDatabase(ctx context.Context, name, encoding, collation string) error
	DropDatabase(ctx context.Context, name string) error
}

// ConnectionRegistry is the slice of the connection registry provisioning
// needs: cache invalidation and DSN rendering for the new database.
type ConnectionRegistry interface {
	Invalidate(databaseName string)
	TenantDSN(databaseName string) string
}

// SchemaMigrator applies the tenant-scoped migration set to one database.
type SchemaMigrator interface {
	ApplyTenant(ctx context.Context, dsn string) error
}

// Config holds provisioning parameters.
type Config struct {
	Encoding         string
	Collation        string
	OperationTimeout time.Duration
}

// Service provisions tenants.
type Service struct {
	repo        tenant.Repository
	appRepo     tenant.ApplicationRepository
	admin       DatabaseAdmin
	conns       ConnectionRegistry
	migrator    SchemaMigrator
	auditLogger audit.Logger
	cfg         Config
}

// NewService creates a new provisioning service
func NewService(
	repo tenant.Repository,
	appRepo tenant.ApplicationRepository,
	admin DatabaseAdmin,
	conns ConnectionRegistry,
	migrator SchemaMigrator,
	auditLogger audit.Logger,
	cfg Config,
) *Service {
	if cfg.Encoding == "" {
		cfg.Encoding = "UTF8"
	}
	if cfg.Collation == "" {
		cfg.Collation = "C"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 60 * time.Second
	}
	return &Service{
		repo:        repo,
		appRepo:     appRepo,
		admin:       admin,
		conns:       conns,
		migrator:    migrator,
		auditLogger: auditLogger,
		cfg:         cfg,
	}
}

// Provision creates an isolated database for a new tenant, in order:
// validate name, claim the registry row, verify the physical database is
// absent, create it with fixed encoding and collation, invalidate any cached
// connection, apply the tenant schema, mark the row provisioned.
//
// The registry claim comes first: its uniqueness constraint is the
// race-breaker, so concurrent calls for the same name have exactly one
// winner. If the schema step fails, the row and database are preserved and
// the error wraps ErrSchemaApplyFailed.
func (s *Service) Provision(ctx context.Context, subscriptionID, databaseName, createdBy string) (*tenant.Tenant, error) {
	if err := tenant.ValidateDatabaseName(databaseName); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	now := time.Now()
	t := &tenant.Tenant{
		ID:             id.String(),
		SubscriptionID: subscriptionID,
		DatabaseName:   databaseName,
		SchemaApplied:  false,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Claim the name in the registry before touching the cluster.
	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, tenant.ErrDuplicateDatabase) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim tenant registry row: %w", err)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	// Metadata check, not create-and-catch: a database that exists outside
	// the registry is an operator problem we refuse to adopt silently.
	exists, err := s.admin.DatabaseExists(opCtx, databaseName)
	if err != nil {
		s.releaseClaim(ctx, t)
		return nil, fmt.Errorf("failed to check for existing database: %w", err)
	}
	if exists {
		s.releaseClaim(ctx, t)
		return nil, fmt.Errorf("%w: database %s already exists on the cluster", tenant.ErrDuplicateDatabase, databaseName)
	}

	if err := s.admin.CreateDatabase(opCtx, databaseName, s.cfg.Encoding, s.cfg.Collation); err != nil {
		// No physical database was created; release the claim so the name
		// can be retried.
		s.releaseClaim(ctx, t)
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeProvisionFailed,
			TenantID: t.ID,
			ActorID:  createdBy,
			Resource: databaseName,
			Metadata: map[string]any{"stage": "create_database", "cause": err.Error()},
		})
		return nil, fmt.Errorf("failed to create database %s: %w", databaseName, err)
	}

	// Discard any cached connection under this name so the schema step and
	// later requests dial the database that now exists.
	s.conns.Invalidate(databaseName)

	if err := s.applySchema(ctx, t); err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantProvisioned,
		TenantID: t.ID,
		ActorID:  createdBy,
		Resource: databaseName,
	})

	return t, nil
}

// ProvisionFromApplication promotes a paid signup application into a tenant.
// Idempotent per transaction reference: once the application is marked
// tenant_created, repeat calls return the existing tenant without side
// effects.
func (s *Service) ProvisionFromApplication(ctx context.Context, transactionRef, createdBy string) (*tenant.Tenant, error) {
	app, err := s.appRepo.GetByTransactionRef(ctx, transactionRef)
	if err != nil {
		return nil, err
	}

	databaseName := tenant.DatabaseNameFromCompany(app.CompanyName)
	if err := tenant.ValidateDatabaseName(databaseName); err != nil {
		return nil, err
	}

	if app.TenantCreated {
		return s.repo.GetByDatabaseName(ctx, databaseName)
	}

	if app.PaymentStatus != tenant.PaymentPaid {
		return nil, fmt.Errorf("%w: %s is %s", ErrPaymentRequired, transactionRef, app.PaymentStatus)
	}

	t, err := s.Provision(ctx, app.RequestedPlan, databaseName, createdBy)
	if err != nil {
		return nil, err
	}

	app.TenantCreated = true
	app.UpdatedAt = time.Now()
	if err := s.appRepo.Update(ctx, app); err != nil {
		return nil, fmt.Errorf("tenant %s provisioned but application update failed: %w", t.ID, err)
	}

	return t, nil
}

// RetrySchema re-applies pending schema to a half-provisioned tenant.
func (s *Service) RetrySchema(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if t.SchemaApplied {
		return t, nil
	}

	s.conns.Invalidate(t.DatabaseName)
	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSchemaRetry,
		TenantID: t.ID,
		Resource: t.DatabaseName,
	})

	if err := s.applySchema(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Deprovision destroys a tenant's physical database and removes its registry
// row. Destructive and irreversible; only ever invoked explicitly by an
// operator, never as rollback.
func (s *Service) Deprovision(ctx context.Context, tenantID string) error {
	t, err := s.repo.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}

	s.conns.Invalidate(t.DatabaseName)

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()
	if err := s.admin.DropDatabase(opCtx, t.DatabaseName); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", t.DatabaseName, err)
	}

	if err := s.repo.Delete(ctx, t.ID); err != nil {
		return fmt.Errorf("database dropped but registry row removal failed: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantDeprovisioned,
		TenantID: t.ID,
		Resource: t.DatabaseName,
	})
	return nil
}

// applySchema runs the tenant migration set and records the outcome on the
// registry row. On failure the row and database are kept as an explicit,
// inspectable half-provisioned state.
func (s *Service) applySchema(ctx context.Context, t *tenant.Tenant) error {
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	if err := s.migrator.ApplyTenant(opCtx, s.conns.TenantDSN(t.DatabaseName)); err != nil {
		t.SchemaApplied = false
		t.LastError = err.Error()
		t.UpdatedAt = time.Now()
		if updateErr := s.repo.Update(ctx, t); updateErr != nil {
			err = errors.Join(err, updateErr)
		}
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeSchemaApplyFailed,
			TenantID: t.ID,
			Resource: t.DatabaseName,
			Metadata: map[string]any{"cause": err.Error()},
		})
		return fmt.Errorf("%w: %s: %v", ErrSchemaApplyFailed, t.DatabaseName, err)
	}

	now := time.Now()
	t.SchemaApplied = true
	t.LastError = ""
	t.UpdatedAt = now
	t.ProvisionedAt = &now
	if err := s.repo.Update(ctx, t); err != nil {
		return fmt.Errorf("schema applied but registry update failed: %w", err)
	}
	return nil
}

// releaseClaim removes a registry claim that never produced a physical
// database.
func (s *Service) releaseClaim(ctx context.Context, t *tenant.Tenant) {
	if err := s.repo.Delete(ctx, t.ID); err != nil {
		s.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeProvisionFailed,
			TenantID: t.ID,
			Resource: t.DatabaseName,
			Metadata: map[string]any{"stage": "release_claim", "cause": err.Error()},
		})
	}
}
