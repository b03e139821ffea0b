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
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/payrollkit/payrollkit/internal/audit"
)

// Ref identifies the tenant database a request should be routed to.
type Ref struct {
	TenantID     string
	DatabaseName string
}

// ResolveRequest carries the per-request inputs a resolution strategy may use.
type ResolveRequest struct {
	Principal Principal
	Host      string
}

// Resolver determines which tenant's database should back a request.
// A nil Ref with a nil error means "bypass": proceed on control-plane data
// without switching. Implementations must not cache results across requests;
// the tenant-to-database mapping can change between requests.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*Ref, error)
}

// PrincipalResolver resolves the tenant from the authenticated principal's
// tenant reference via a control-plane lookup.
type PrincipalResolver struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewPrincipalResolver creates a principal-based resolver
func NewPrincipalResolver(repo Repository, auditLogger audit.Logger) *PrincipalResolver {
	return &PrincipalResolver{repo: repo, auditLogger: auditLogger}
}

// Resolve maps the principal to a tenant ref. Platform operators bypass the
// switch. A principal without a resolvable, routable tenant also bypasses,
// but that path is audited: it is a deliberate grace state for principals
// mid-registration, not a silent default.
func (r *PrincipalResolver) Resolve(ctx context.Context, req ResolveRequest) (*Ref, error) {
	p := req.Principal
	if p.IsOperator() {
		return nil, nil
	}

	if p.TenantID == nil || *p.TenantID == "" {
		r.auditBypass(ctx, p, "", "principal has no tenant reference")
		return nil, nil
	}

	t, err := r.repo.GetByID(ctx, *p.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			r.auditBypass(ctx, p, *p.TenantID, "tenant record not found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve tenant %s: %w", *p.TenantID, err)
	}

	if !t.Routable() {
		r.auditBypass(ctx, p, t.ID, "tenant is not routable")
		return nil, nil
	}

	return &Ref{TenantID: t.ID, DatabaseName: t.DatabaseName}, nil
}

func (r *PrincipalResolver) auditBypass(ctx context.Context, p Principal, tenantID, reason string) {
	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantSwitchBypassed,
		TenantID: tenantID,
		ActorID:  p.UserID,
		Metadata: map[string]any{"reason": reason},
	})
}

// HostResolver resolves the tenant from the request host by an indexed
// control-plane lookup. Unlike the principal strategy there is no grace path:
// an unregistered host is a hard failure.
type HostResolver struct {
	repo Repository
}

// NewHostResolver creates a host-based resolver
func NewHostResolver(repo Repository) *HostResolver {
	return &HostResolver{repo: repo}
}

// Resolve maps the request host 1:1 to a tenant record. Operators still
// bypass; everyone else must arrive on a registered tenant host.
func (r *HostResolver) Resolve(ctx context.Context, req ResolveRequest) (*Ref, error) {
	if req.Principal.IsOperator() {
		return nil, nil
	}

	host := normalizeHost(req.Host)
	if host == "" {
		return nil, fmt.Errorf("%w: request has no host", ErrTenantNotFound)
	}

	t, err := r.repo.GetByHost(ctx, host)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return nil, fmt.Errorf("%w: no tenant registered for host %s", ErrTenantNotFound, host)
		}
		return nil, fmt.Errorf("failed to resolve host %s: %w", host, err)
	}

	if !t.Routable() {
		return nil, fmt.Errorf("%w: tenant for host %s is not routable", ErrTenantNotFound, host)
	}

	return &Ref{TenantID: t.ID, DatabaseName: t.DatabaseName}, nil
}

// normalizeHost strips an optional port and lowercases the host.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}
