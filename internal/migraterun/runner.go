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

// Package migraterun applies pending tenant schema migrations across the
// whole fleet. Each tenant is migrated independently: one broken database
// never blocks the rest of the batch, it only shows up in the report.
package migraterun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

// Migrator applies pending schema units against a single database.
type Migrator interface {
	ApplyTenant(ctx context.Context, dsn string) error
}

// ConnectionRegistry hands out DSNs and drops cached handles after a
// migration changes what a connection would see.
type ConnectionRegistry interface {
	TenantDSN(databaseName string) string
	Invalidate(databaseName string)
}

// Result records the outcome of one tenant's migration run.
type Result struct {
	TenantID     string
	DatabaseName string
	Duration     time.Duration
	Err          error
}

// Report aggregates the per-tenant results of a batch run.
type Report struct {
	Results []Result
	Started time.Time
	Elapsed time.Duration
}

// Failed returns the results for tenants whose migration failed.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Runner migrates every provisioned tenant with bounded parallelism.
type Runner struct {
	repo        tenant.Repository
	conns       ConnectionRegistry
	migrator    Migrator
	parallelism int
	log         *slog.Logger
}

func NewRunner(repo tenant.Repository, conns ConnectionRegistry, migrator Migrator, parallelism int, log *slog.Logger) *Runner {
	if parallelism < 1 {
		parallelism = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		repo:        repo,
		conns:       conns,
		migrator:    migrator,
		parallelism: parallelism,
		log:         log,
	}
}

const listPageSize = 200

// RunAll migrates all tenants that have a database. A tenant whose schema
// previously failed to apply is included: a clean run repairs its registry
// row. Context cancellation stops scheduling new tenants but never turns an
// individual tenant's outcome into a partial write.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	tenants, err := r.listAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	report := &Report{
		Results: make([]Result, len(tenants)),
		Started: time.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for i, t := range tenants {
		g.Go(func() error {
			report.Results[i] = r.runOne(gctx, t)
			// Failures land in the report, not in the group error, so the
			// rest of the batch keeps going.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Elapsed = time.Since(report.Started)

	failed := len(report.Failed())
	r.log.InfoContext(ctx, "tenant migration batch finished",
		slog.Int("tenants", len(tenants)),
		slog.Int("failed", failed),
		slog.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, t *tenant.Tenant) Result {
	res := Result{TenantID: t.ID, DatabaseName: t.DatabaseName}
	start := time.Now()

	err := r.migrator.ApplyTenant(ctx, r.conns.TenantDSN(t.DatabaseName))
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		r.log.ErrorContext(ctx, "tenant migration failed",
			logger.TenantID(t.ID),
			logger.Database(t.DatabaseName),
			logger.Error(err),
		)
		return res
	}

	r.conns.Invalidate(t.DatabaseName)

	if !t.SchemaApplied {
		// A tenant stuck half-provisioned is repaired by a clean batch run.
		t.SchemaApplied = true
		t.LastError = ""
		t.UpdatedAt = time.Now()
		if uerr := r.repo.Update(ctx, t); uerr != nil {
			res.Err = fmt.Errorf("schema applied but registry update failed: %w", uerr)
			return res
		}
	}

	r.log.InfoContext(ctx, "tenant migrated",
		logger.TenantID(t.ID),
		logger.Database(t.DatabaseName),
		slog.Duration("duration", res.Duration),
	)
	return res
}

func (r *Runner) listAll(ctx context.Context) ([]*tenant.Tenant, error) {
	var all []*tenant.Tenant
	for offset := 0; ; offset += listPageSize {
		page, err := r.repo.List(ctx, listPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, t := range page {
			if t.DatabaseName != "" {
				all = append(all, t)
			}
		}
		if len(page) < listPageSize {
			return all, nil
		}
	}
}
