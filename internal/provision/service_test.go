package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/payrollkit/payrollkit/internal/audit"
	"github.com/payrollkit/payrollkit/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, t *tenant.Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Tenant), args.Error(1)
}

func (m *mockRepo) GetByDatabaseName(ctx context.Context, databaseName string) (*tenant.Tenant, error) {
	args := m.Called(ctx, databaseName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Tenant), args.Error(1)
}

func (m *mockRepo) GetByHost(ctx context.Context, host string) (*tenant.Tenant, error) {
	args := m.Called(ctx, host)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Tenant), args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, t *tenant.Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*tenant.Tenant, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*tenant.Tenant), args.Error(1)
}

type mockAppRepo struct {
	mock.Mock
}

func (m *mockAppRepo) Create(ctx context.Context, app *tenant.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

func (m *mockAppRepo) GetByID(ctx context.Context, id string) (*tenant.Application, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Application), args.Error(1)
}

func (m *mockAppRepo) GetByTransactionRef(ctx context.Context, ref string) (*tenant.Application, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Application), args.Error(1)
}

func (m *mockAppRepo) Settle(ctx context.Context, ref string, status tenant.PaymentStatus) (*tenant.Application, error) {
	args := m.Called(ctx, ref, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tenant.Application), args.Error(1)
}

func (m *mockAppRepo) Update(ctx context.Context, app *tenant.Application) error {
	args := m.Called(ctx, app)
	return args.Error(0)
}

func (m *mockAppRepo) List(ctx context.Context, limit, offset int) ([]*tenant.Application, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*tenant.Application), args.Error(1)
}

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) DatabaseExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockAdmin) CreateDatabase(ctx context.Context, name, encoding, collation string) error {
	args := m.Called(ctx, name, encoding, collation)
	return args.Error(0)
}

func (m *mockAdmin) DropDatabase(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type mockConns struct {
	mock.Mock
}

func (m *mockConns) Invalidate(databaseName string) {
	m.Called(databaseName)
}

func (m *mockConns) TenantDSN(databaseName string) string {
	args := m.Called(databaseName)
	return args.String(0)
}

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) ApplyTenant(ctx context.Context, dsn string) error {
	args := m.Called(ctx, dsn)
	return args.Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}

func newTestService() (*Service, *mockRepo, *mockAppRepo, *mockAdmin, *mockConns, *mockMigrator, *mockAudit) {
	repo := new(mockRepo)
	appRepo := new(mockAppRepo)
	admin := new(mockAdmin)
	conns := new(mockConns)
	migrator := new(mockMigrator)
	auditLogger := new(mockAudit)
	svc := NewService(repo, appRepo, admin, conns, migrator, auditLogger, Config{})
	return svc, repo, appRepo, admin, conns, migrator, auditLogger
}

// TestPurpose: Validates that an unsafe database name is rejected before any
// side effect.
// Scope: Unit Test
// Security: SQL injection via DDL identifier interpolation (CWE-89)
// Expected: ErrInvalidDatabaseName; neither the registry nor the cluster is touched.
// Test Case ID: PROV-01
func TestProvision_InvalidName_NoSideEffects(t *testing.T) {
	svc, repo, _, admin, _, _, _ := newTestService()

	_, err := svc.Provision(context.Background(), "plan-starter", "acme;drop database control", "op-1")

	assert.ErrorIs(t, err, tenant.ErrInvalidDatabaseName)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "DatabaseExists", mock.Anything, mock.Anything)
}

// TestPurpose: Validates that the registry claim is the race-breaker for
// concurrent provisioning of the same name.
// Scope: Unit Test
// Expected: A unique-violation on the claim surfaces as ErrDuplicateDatabase
// and no DDL is issued.
// Test Case ID: PROV-02
func TestProvision_DuplicateClaim(t *testing.T) {
	svc, repo, _, admin, _, _, _ := newTestService()

	repo.On("Create", mock.Anything, mock.Anything).Return(tenant.ErrDuplicateDatabase)

	_, err := svc.Provision(context.Background(), "plan-starter", "acme_co", "op-1")

	assert.ErrorIs(t, err, tenant.ErrDuplicateDatabase)
	admin.AssertNotCalled(t, "DatabaseExists", mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates the metadata pre-check for databases that exist on
// the cluster outside the registry.
// Scope: Unit Test
// Expected: ErrDuplicateDatabase, the claim row is released, and no CREATE
// DATABASE is issued.
// Test Case ID: PROV-03
func TestProvision_PhysicalDatabaseExists(t *testing.T) {
	svc, repo, _, admin, _, _, _ := newTestService()

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	repo.On("Delete", mock.Anything, mock.Anything).Return(nil)
	admin.On("DatabaseExists", mock.Anything, "acme_co").Return(true, nil)

	_, err := svc.Provision(context.Background(), "plan-starter", "acme_co", "op-1")

	assert.ErrorIs(t, err, tenant.ErrDuplicateDatabase)
	repo.AssertCalled(t, "Delete", mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates the fail-loud, stay-resumable policy when schema
// application fails after the database and registry row exist.
// Scope: Unit Test
// Expected: ErrSchemaApplyFailed; the registry row is updated with the failure
// and preserved; the database is never dropped.
// Test Case ID: PROV-04
func TestProvision_SchemaApplyFailure_PreservesHalfState(t *testing.T) {
	svc, repo, _, admin, conns, migrator, auditLogger := newTestService()

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)
	admin.On("DatabaseExists", mock.Anything, "acme_co").Return(false, nil)
	admin.On("CreateDatabase", mock.Anything, "acme_co", "UTF8", "C").Return(nil)
	conns.On("Invalidate", "acme_co").Return()
	conns.On("TenantDSN", "acme_co").Return("postgres://x/acme_co")
	migrator.On("ApplyTenant", mock.Anything, "postgres://x/acme_co").Return(errors.New("relation exists"))
	repo.On("Update", mock.Anything, mock.MatchedBy(func(tt *tenant.Tenant) bool {
		return !tt.SchemaApplied && tt.LastError != ""
	})).Return(nil)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeSchemaApplyFailed
	})).Return()

	_, err := svc.Provision(context.Background(), "plan-starter", "acme_co", "op-1")

	assert.ErrorIs(t, err, ErrSchemaApplyFailed)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "DropDatabase", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
	auditLogger.AssertExpectations(t)
}

// TestPurpose: Validates the full provisioning happy path and its step order.
// Scope: Unit Test
// Expected: Claim, existence check, create, invalidate, migrate, mark applied;
// the returned tenant is routable.
// Test Case ID: PROV-05
func TestProvision_Success(t *testing.T) {
	svc, repo, _, admin, conns, migrator, auditLogger := newTestService()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(tt *tenant.Tenant) bool {
		return tt.DatabaseName == "acme_co" && !tt.SchemaApplied
	})).Return(nil)
	admin.On("DatabaseExists", mock.Anything, "acme_co").Return(false, nil)
	admin.On("CreateDatabase", mock.Anything, "acme_co", "UTF8", "C").Return(nil)
	conns.On("Invalidate", "acme_co").Return()
	conns.On("TenantDSN", "acme_co").Return("postgres://x/acme_co")
	migrator.On("ApplyTenant", mock.Anything, "postgres://x/acme_co").Return(nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(tt *tenant.Tenant) bool {
		return tt.SchemaApplied && tt.ProvisionedAt != nil
	})).Return(nil)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeTenantProvisioned
	})).Return()

	created, err := svc.Provision(context.Background(), "plan-starter", "acme_co", "op-1")

	assert.NoError(t, err)
	assert.NotNil(t, created)
	assert.True(t, created.Routable())
	assert.Equal(t, "plan-starter", created.SubscriptionID)
	repo.AssertExpectations(t)
	admin.AssertExpectations(t)
	migrator.AssertExpectations(t)
}

// TestPurpose: Validates idempotent promotion per transaction reference.
// Scope: Unit Test
// Expected: A second promotion call for an application already marked
// tenant_created returns the existing tenant and performs no provisioning.
// Test Case ID: PROV-06
func TestProvision_FromApplication_Idempotent(t *testing.T) {
	svc, repo, appRepo, admin, _, _, _ := newTestService()

	appRepo.On("GetByTransactionRef", mock.Anything, "tx-1").Return(&tenant.Application{
		ID: "app-1", CompanyName: "Acme Co", RequestedPlan: "plan-starter",
		PaymentStatus: tenant.PaymentPaid, TransactionRef: "tx-1", TenantCreated: true,
	}, nil)
	existing := &tenant.Tenant{ID: "t-1", DatabaseName: "acme_co", SchemaApplied: true}
	repo.On("GetByDatabaseName", mock.Anything, "acme_co").Return(existing, nil)

	got, err := svc.ProvisionFromApplication(context.Background(), "tx-1", "system")

	assert.NoError(t, err)
	assert.Equal(t, existing, got)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	admin.AssertNotCalled(t, "CreateDatabase", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestPurpose: Validates that only paid applications can be promoted.
// Scope: Unit Test
// Expected: ErrPaymentRequired for a pending application; no provisioning.
// Test Case ID: PROV-07
func TestProvision_FromApplication_RequiresPaid(t *testing.T) {
	svc, repo, appRepo, _, _, _, _ := newTestService()

	appRepo.On("GetByTransactionRef", mock.Anything, "tx-2").Return(&tenant.Application{
		ID: "app-2", CompanyName: "Beta Inc", RequestedPlan: "plan-starter",
		PaymentStatus: tenant.PaymentPending, TransactionRef: "tx-2",
	}, nil)

	_, err := svc.ProvisionFromApplication(context.Background(), "tx-2", "system")

	assert.ErrorIs(t, err, ErrPaymentRequired)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// TestPurpose: Validates schema retry against a half-provisioned tenant.
// Scope: Unit Test
// Expected: Pending units are applied and the registry row is marked
// schema_applied; an already-applied tenant is a no-op.
// Test Case ID: PROV-08
func TestProvision_RetrySchema(t *testing.T) {
	svc, repo, _, _, conns, migrator, auditLogger := newTestService()

	half := &tenant.Tenant{ID: "t-2", DatabaseName: "beta_inc", SchemaApplied: false, LastError: "boom"}
	repo.On("GetByID", mock.Anything, "t-2").Return(half, nil)
	conns.On("Invalidate", "beta_inc").Return()
	conns.On("TenantDSN", "beta_inc").Return("postgres://x/beta_inc")
	migrator.On("ApplyTenant", mock.Anything, "postgres://x/beta_inc").Return(nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(tt *tenant.Tenant) bool {
		return tt.SchemaApplied && tt.LastError == ""
	})).Return(nil)
	auditLogger.On("Log", mock.Anything, mock.MatchedBy(func(e audit.Event) bool {
		return e.Type == audit.TypeSchemaRetry
	})).Return()

	got, err := svc.RetrySchema(context.Background(), "t-2")

	assert.NoError(t, err)
	assert.True(t, got.SchemaApplied)
	migrator.AssertExpectations(t)

	// Already applied: nothing happens.
	applied := &tenant.Tenant{ID: "t-3", DatabaseName: "gamma_llc", SchemaApplied: true}
	repo.On("GetByID", mock.Anything, "t-3").Return(applied, nil)

	got, err = svc.RetrySchema(context.Background(), "t-3")
	assert.NoError(t, err)
	assert.Equal(t, applied, got)
	conns.AssertNotCalled(t, "Invalidate", "gamma_llc")
}
