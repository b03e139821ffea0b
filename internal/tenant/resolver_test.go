package tenant

import (
	"context"
	"testing"

	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func strPtr(s string) *string { return &s }

// TestPurpose: Validates that platform operators bypass the tenant switch and
// proceed on control-plane data.
// Scope: Unit Test
// Expected: Resolve returns a nil ref and no error without a registry lookup.
// Test Case ID: RES-01
func TestTenant_PrincipalResolver_OperatorBypasses(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	resolver := NewPrincipalResolver(repo, auditLogger)

	ref, err := resolver.Resolve(context.Background(), ResolveRequest{
		Principal: Principal{UserID: "op-1", Role: RolePlatformOperator},
	})

	assert.NoError(t, err)
	assert.Nil(t, ref)
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

// TestPurpose: Validates the audited grace path for principals without a tenant
// reference (for example mid-registration).
// Scope: Unit Test
// Security: The bypass is an explicit, auditable state, never a silent default.
// Expected: Resolve returns a nil ref and emits a tenant_switch_bypassed event.
// Test Case ID: RES-02
func TestTenant_PrincipalResolver_NoTenantRefBypassesWithAudit(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	resolver := NewPrincipalResolver(repo, auditLogger)

	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantSwitchBypassed && e.ActorID == "user-1"
	})).Return()

	ref, err := resolver.Resolve(context.Background(), ResolveRequest{
		Principal: Principal{UserID: "user-1", Role: RoleTenantMember},
	})

	assert.NoError(t, err)
	assert.Nil(t, ref)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates resolution of a routable tenant from the principal's
// tenant reference.
// Scope: Unit Test
// Expected: Resolve returns the tenant's database name.
// Test Case ID: RES-03
func TestTenant_PrincipalResolver_ResolvesRoutableTenant(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	resolver := NewPrincipalResolver(repo, auditLogger)

	ctx := context.Background()
	repo.On("GetByID", ctx, "t-1").Return(&Tenant{
		ID: "t-1", DatabaseName: "acme_co", SchemaApplied: true,
	}, nil)

	ref, err := resolver.Resolve(ctx, ResolveRequest{
		Principal: Principal{UserID: "user-1", Role: RoleTenantMember, TenantID: strPtr("t-1")},
	})

	assert.NoError(t, err)
	assert.NotNil(t, ref)
	assert.Equal(t, "t-1", ref.TenantID)
	assert.Equal(t, "acme_co", ref.DatabaseName)
	repo.AssertExpectations(t)
}

// TestPurpose: Validates that a half-provisioned tenant (schema apply failed)
// is not routable and falls back to the audited bypass path.
// Scope: Unit Test
// Expected: Resolve returns a nil ref and emits a tenant_switch_bypassed event.
// Test Case ID: RES-04
func TestTenant_PrincipalResolver_HalfProvisionedBypasses(t *testing.T) {
	repo := new(mockRepo)
	auditLogger := new(mockAudit)
	resolver := NewPrincipalResolver(repo, auditLogger)

	ctx := context.Background()
	repo.On("GetByID", ctx, "t-2").Return(&Tenant{
		ID: "t-2", DatabaseName: "beta_inc", SchemaApplied: false,
	}, nil)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantSwitchBypassed && e.TenantID == "t-2"
	})).Return()

	ref, err := resolver.Resolve(ctx, ResolveRequest{
		Principal: Principal{UserID: "user-2", Role: RoleTenantAdmin, TenantID: strPtr("t-2")},
	})

	assert.NoError(t, err)
	assert.Nil(t, ref)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates that host-based resolution treats an unregistered host
// as a hard failure, never a silent default.
// Scope: Unit Test
// Security: Prevents requests on unknown hosts from reaching any tenant data.
// Expected: Resolve fails with ErrTenantNotFound.
// Test Case ID: RES-05
func TestTenant_HostResolver_UnknownHostFails(t *testing.T) {
	repo := new(mockRepo)
	resolver := NewHostResolver(repo)

	ctx := context.Background()
	repo.On("GetByHost", ctx, "unknown.payrollkit.example").Return(nil, ErrTenantNotFound)

	ref, err := resolver.Resolve(ctx, ResolveRequest{
		Principal: Principal{UserID: "user-1", Role: RoleTenantMember},
		Host:      "unknown.payrollkit.example:8443",
	})

	assert.ErrorIs(t, err, ErrTenantNotFound)
	assert.Nil(t, ref)
	repo.AssertExpectations(t)
}

// TestPurpose: Validates host-based resolution of a registered tenant host,
// including port stripping and case normalization.
// Scope: Unit Test
// Expected: Resolve returns the tenant's database name.
// Test Case ID: RES-06
func TestTenant_HostResolver_ResolvesRegisteredHost(t *testing.T) {
	repo := new(mockRepo)
	resolver := NewHostResolver(repo)

	ctx := context.Background()
	repo.On("GetByHost", ctx, "acme.payrollkit.example").Return(&Tenant{
		ID: "t-1", DatabaseName: "acme_co", SchemaApplied: true,
	}, nil)

	ref, err := resolver.Resolve(ctx, ResolveRequest{
		Principal: Principal{UserID: "user-1", Role: RoleTenantMember},
		Host:      "Acme.payrollkit.example:443",
	})

	assert.NoError(t, err)
	assert.NotNil(t, ref)
	assert.Equal(t, "acme_co", ref.DatabaseName)
	repo.AssertExpectations(t)
}
