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

// migrate-tenants applies pending schema migrations to every tenant database.
// Intended for deploys: run after the new binary's control-plane migration,
// before traffic shifts. Exits non-zero if any tenant failed, leaving the
// failures listed for operator follow-up; successful tenants stay migrated.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/payrollkit/payrollkit/internal/config"
	"github.com/payrollkit/payrollkit/internal/dbconn"
	"github.com/payrollkit/payrollkit/internal/migraterun"
	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/schema"
	"github.com/payrollkit/payrollkit/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx := context.Background()

	conns, err := dbconn.New(ctx, dbconn.Params{
		Host:         cfg.ControlDB.Host,
		Port:         cfg.ControlDB.Port,
		User:         cfg.ControlDB.User,
		Password:     cfg.ControlDB.Password,
		Database:     cfg.ControlDB.Database,
		SSLMode:      cfg.ControlDB.SSLMode,
		MaxOpenConns: cfg.ControlDB.MaxOpenConns,
		MaxIdleConns: cfg.ControlDB.MaxIdleConns,
	}, dbconn.Params{
		Host:           cfg.TenantDB.Host,
		Port:           cfg.TenantDB.Port,
		User:           cfg.TenantDB.User,
		Password:       cfg.TenantDB.Password,
		SSLMode:        cfg.TenantDB.SSLMode,
		MaxOpenConns:   cfg.TenantDB.MaxOpenConns,
		MaxIdleConns:   cfg.TenantDB.MaxIdleConns,
		ConnectTimeout: cfg.TenantDB.ConnectTimeout,
	}, cfg.TenantDB.MaxPools)
	if err != nil {
		slog.Error("failed to connect to control-plane database", logger.Error(err))
		os.Exit(1)
	}
	defer conns.Close()

	tenantRepo := postgres.NewTenantRepository(postgres.NewDB(conns.Control()))

	runner := migraterun.NewRunner(
		tenantRepo,
		conns,
		schema.TenantMigrator{},
		cfg.Provisioning.BatchParallelism,
		slog.Default(),
	)

	report, err := runner.RunAll(ctx)
	if err != nil {
		slog.Error("tenant migration batch aborted", logger.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Migrated %d tenants in %s\n", len(report.Results), report.Elapsed.Round(time.Millisecond))

	failed := report.Failed()
	if len(failed) == 0 {
		return
	}

	fmt.Printf("%d tenants FAILED:\n", len(failed))
	for _, res := range failed {
		fmt.Printf("  %s (%s): %v\n", res.DatabaseName, res.TenantID, res.Err)
	}
	os.Exit(1)
}
