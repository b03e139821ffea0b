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

// deprovision destroys one tenant's database and registry row. This is the
// only code path that drops a tenant database; provisioning failures never
// roll back into it. Requires the -confirm flag naming the database, so a
// copy-pasted tenant ID alone cannot destroy anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/config"
	"github.com/payrollkit/payrollkit/internal/dbconn"
	"github.com/payrollkit/payrollkit/internal/observability/logger"
	"github.com/payrollkit/payrollkit/internal/provision"
	"github.com/payrollkit/payrollkit/internal/schema"
	"github.com/payrollkit/payrollkit/internal/store/postgres"
)

func main() {
	tenantID := flag.String("tenant", "", "tenant ID to deprovision")
	confirm := flag.String("confirm", "", "database name of the tenant, repeated as confirmation")
	flag.Parse()

	if *tenantID == "" || *confirm == "" {
		fmt.Println("Usage: deprovision -tenant <tenant-id> -confirm <database-name>")
		os.Exit(2)
	}

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
		ConnectTimeout: cfg.TenantDB.ConnectTimeout,
	}, cfg.TenantDB.MaxPools)
	if err != nil {
		slog.Error("failed to connect to control-plane database", logger.Error(err))
		os.Exit(1)
	}
	defer conns.Close()

	db := postgres.NewDB(conns.Control())
	tenantRepo := postgres.NewTenantRepository(db)

	t, err := tenantRepo.GetByID(ctx, *tenantID)
	if err != nil {
		fmt.Printf("Failed to load tenant %s: %v\n", *tenantID, err)
		os.Exit(1)
	}
	if t.DatabaseName != *confirm {
		fmt.Printf("Confirmation mismatch: tenant %s owns database %q, not %q\n",
			t.ID, t.DatabaseName, *confirm)
		os.Exit(2)
	}

	svc := provision.NewService(
		tenantRepo,
		postgres.NewApplicationRepository(db),
		postgres.NewDatabaseAdmin(db),
		conns,
		schema.TenantMigrator{},
		audit.NewSlogLogger(),
		provision.Config{
			Encoding:         cfg.Provisioning.Encoding,
			Collation:        cfg.Provisioning.Collation,
			OperationTimeout: cfg.Provisioning.OperationTimeout,
		},
	)

	fmt.Printf("Dropping database %s and registry row for tenant %s...\n", t.DatabaseName, t.ID)
	if err := svc.Deprovision(ctx, t.ID); err != nil {
		slog.Error("deprovision failed", logger.TenantID(t.ID), logger.Error(err))
		os.Exit(1)
	}
	fmt.Println("Done.")
}
