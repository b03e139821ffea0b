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
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/payrollkit/payrollkit/internal/tenant"
)

type contextKey string

const (
	principalKey  contextKey = "principal"
	sessionIDKey  contextKey = "session_id"
	tenantRefKey  contextKey = "tenant_ref"
	tenantPoolKey contextKey = "tenant_pool"
)

// PrincipalFrom retrieves the authenticated principal from context.
func PrincipalFrom(ctx context.Context) (tenant.Principal, bool) {
	p, ok := ctx.Value(principalKey).(tenant.Principal)
	return p, ok
}

// GetSessionID retrieves the Session ID from context.
func GetSessionID(ctx context.Context) string {
	if val, ok := ctx.Value(sessionIDKey).(string); ok {
		return val
	}
	return ""
}

// TenantRefFrom retrieves the resolved tenant ref, if the request was
// switched to a tenant database.
func TenantRefFrom(ctx context.Context) (*tenant.Ref, bool) {
	ref, ok := ctx.Value(tenantRefKey).(*tenant.Ref)
	return ref, ok
}

// TenantPool retrieves the request's tenant database pool. The pool is bound
// per request by the switch middleware; there is no process-wide current
// tenant to fall back to. A nil pool means the request runs on control-plane
// data only.
func TenantPool(ctx context.Context) *pgxpool.Pool {
	if pool, ok := ctx.Value(tenantPoolKey).(*pgxpool.Pool); ok {
		return pool
	}
	return nil
}
