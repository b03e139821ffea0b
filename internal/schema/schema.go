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

// Package schema owns the ordered, idempotent migration sets for the
// control-plane database and for tenant databases. Applied units are tracked
// in goose's ledger table per database, so each unit runs at most once and
// application never probes live schema shape.
package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/control/*.sql migrations/tenant/*.sql
var migrations embed.FS

// ApplyControl applies all pending control-plane migrations.
func ApplyControl(ctx context.Context, dsn string) error {
	return apply(ctx, dsn, "migrations/control")
}

// ApplyTenant applies all pending tenant-scoped migrations against one tenant
// database. Safe to call repeatedly; already-applied units are skipped by
// ledger lookup.
func ApplyTenant(ctx context.Context, dsn string) error {
	return apply(ctx, dsn, "migrations/tenant")
}

// TenantMigrator adapts ApplyTenant to the migrator interfaces consumers
// declare. Stateless.
type TenantMigrator struct{}

func (TenantMigrator) ApplyTenant(ctx context.Context, dsn string) error {
	return ApplyTenant(ctx, dsn)
}

// TenantVersion returns the applied tenant-schema version of one database.
func TenantVersion(ctx context.Context, dsn string) (int64, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	provider, err := newProvider(db, "migrations/tenant")
	if err != nil {
		return 0, err
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

func apply(ctx context.Context, dsn, dir string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	provider, err := newProvider(db, dir)
	if err != nil {
		return err
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// newProvider builds a per-call goose provider. Providers carry their own
// state, so concurrent per-tenant runs do not share globals.
func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	sub, err := fs.Sub(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("migration set %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(database.DialectPostgres, db, sub)
	if err != nil {
		return nil, fmt.Errorf("migration provider: %w", err)
	}
	return provider, nil
}
