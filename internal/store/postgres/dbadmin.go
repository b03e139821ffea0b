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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

// DatabaseAdmin issues cluster-level DDL through the control-plane pool.
// CREATE/DROP DATABASE cannot run in a transaction and cannot take bind
// parameters, so every name is validated and then quoted as an identifier
// before interpolation.
type DatabaseAdmin struct {
	db *DB
}

// NewDatabaseAdmin creates a new cluster admin
func NewDatabaseAdmin(db *DB) *DatabaseAdmin {
	return &DatabaseAdmin{db: db}
}

// DatabaseExists checks cluster metadata for the named database. Metadata is
// authoritative here: creating and catching the duplicate error would hide
// databases that exist outside the registry.
func (a *DatabaseAdmin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := a.db.pool.QueryRow(ctx, `
		SELECT 1 FROM pg_database WHERE datname = $1
	`, name).Scan(&one)

	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check database existence: %w", err)
	}

	return true, nil
}

// validLocaleName bounds the encoding and collation values that may be
// interpolated into CREATE DATABASE string literals. They come from config,
// but the DDL boundary validates everything it splices, same as the name.
func validLocaleName(value string) error {
	if value == "" || len(value) > 64 {
		return fmt.Errorf("invalid locale value: %q", value)
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("invalid locale value: %q", value)
		}
	}
	return nil
}

// CreateDatabase creates an isolated tenant database from template0 so the
// encoding and collation are exactly what we ask for, not whatever the
// cluster's template1 happens to carry.
func (a *DatabaseAdmin) CreateDatabase(ctx context.Context, name, encoding, collation string) error {
	if err := tenant.ValidateDatabaseName(name); err != nil {
		return err
	}
	if err := validLocaleName(encoding); err != nil {
		return err
	}
	if err := validLocaleName(collation); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		`CREATE DATABASE %s ENCODING '%s' LC_COLLATE '%s' LC_CTYPE '%s' TEMPLATE template0`,
		pgx.Identifier{name}.Sanitize(), encoding, collation, collation,
	)

	if _, err := a.db.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}

	return nil
}

// DropDatabase destroys a tenant database, severing any remaining
// connections first. Irreversible.
func (a *DatabaseAdmin) DropDatabase(ctx context.Context, name string) error {
	if err := tenant.ValidateDatabaseName(name); err != nil {
		return err
	}

	stmt := fmt.Sprintf(
		`DROP DATABASE IF EXISTS %s WITH (FORCE)`,
		pgx.Identifier{name}.Sanitize(),
	)

	if _, err := a.db.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop database %s: %w", name, err)
	}

	return nil
}
