package migraterun

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

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

// fakeMigrator lets individual databases fail and records peak concurrency.
type fakeMigrator struct {
	failFor map[string]error
	inUse   atomic.Int64
	peak    atomic.Int64
	mu      sync.Mutex
	applied []string
}

func (f *fakeMigrator) ApplyTenant(_ context.Context, dsn string) error {
	cur := f.inUse.Add(1)
	defer f.inUse.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	f.mu.Lock()
	f.applied = append(f.applied, dsn)
	f.mu.Unlock()
	if err, ok := f.failFor[dsn]; ok {
		return err
	}
	return nil
}

type fakeConns struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeConns) TenantDSN(databaseName string) string { return databaseName }

func (f *fakeConns) Invalidate(databaseName string) {
	f.mu.Lock()
	f.invalidated = append(f.invalidated, databaseName)
	f.mu.Unlock()
}

func fleet(names ...string) []*tenant.Tenant {
	ts := make([]*tenant.Tenant, len(names))
	for i, n := range names {
		ts[i] = &tenant.Tenant{ID: "t-" + n, DatabaseName: n, SchemaApplied: true}
	}
	return ts
}

// TestPurpose: Validates that one tenant's migration failure never blocks the
// rest of the batch.
// Scope: Unit Test
// Expected: All tenants are attempted; only the broken one appears in
// Report.Failed().
// Test Case ID: MIG-01
func TestRunAll_FailureIsolated(t *testing.T) {
	repo := new(mockRepo)
	tenants := fleet("alpha", "beta", "gamma")
	repo.On("List", mock.Anything, listPageSize, 0).Return(tenants, nil)

	migrator := &fakeMigrator{failFor: map[string]error{"beta": errors.New("column clash")}}
	conns := &fakeConns{}

	runner := NewRunner(repo, conns, migrator, 2, nil)
	report, err := runner.RunAll(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Results, 3)
	assert.Len(t, migrator.applied, 3)

	failed := report.Failed()
	assert.Len(t, failed, 1)
	assert.Equal(t, "beta", failed[0].DatabaseName)
	assert.Error(t, failed[0].Err)
}

// TestPurpose: Validates the configured parallelism bound.
// Scope: Unit Test
// Expected: No more than the configured number of migrations run at once.
// Test Case ID: MIG-02
func TestRunAll_BoundedParallelism(t *testing.T) {
	repo := new(mockRepo)
	repo.On("List", mock.Anything, listPageSize, 0).
		Return(fleet("a", "b", "c", "d", "e", "f", "g", "h"), nil)

	migrator := &fakeMigrator{}
	runner := NewRunner(repo, &fakeConns{}, migrator, 3, nil)

	report, err := runner.RunAll(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.LessOrEqual(t, migrator.peak.Load(), int64(3))
}

// TestPurpose: Validates that a clean batch run repairs a tenant stuck
// half-provisioned after an earlier schema failure.
// Scope: Unit Test
// Expected: The registry row is updated to schema_applied with its error
// cleared; already-applied tenants are not rewritten.
// Test Case ID: MIG-03
func TestRunAll_RepairsHalfProvisionedRow(t *testing.T) {
	repo := new(mockRepo)
	stuck := &tenant.Tenant{ID: "t-stuck", DatabaseName: "stuck", SchemaApplied: false, LastError: "boom"}
	healthy := &tenant.Tenant{ID: "t-ok", DatabaseName: "ok", SchemaApplied: true}
	repo.On("List", mock.Anything, listPageSize, 0).Return([]*tenant.Tenant{stuck, healthy}, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(tt *tenant.Tenant) bool {
		return tt.ID == "t-stuck" && tt.SchemaApplied && tt.LastError == ""
	})).Return(nil)

	conns := &fakeConns{}
	runner := NewRunner(repo, conns, &fakeMigrator{}, 1, nil)

	report, err := runner.RunAll(context.Background())

	assert.NoError(t, err)
	assert.Empty(t, report.Failed())
	repo.AssertExpectations(t)
	repo.AssertNumberOfCalls(t, "Update", 1)
	assert.ElementsMatch(t, []string{"stuck", "ok"}, conns.invalidated)
}

// TestPurpose: Validates that tenants without a database are skipped and
// pagination walks the whole registry.
// Scope: Unit Test
// Expected: Only tenants with a database name are migrated.
// Test Case ID: MIG-04
func TestRunAll_SkipsTenantsWithoutDatabase(t *testing.T) {
	repo := new(mockRepo)
	repo.On("List", mock.Anything, listPageSize, 0).Return([]*tenant.Tenant{
		{ID: "t-1", DatabaseName: "one", SchemaApplied: true},
		{ID: "t-2", DatabaseName: ""},
	}, nil)

	migrator := &fakeMigrator{}
	runner := NewRunner(repo, &fakeConns{}, migrator, 2, nil)

	report, err := runner.RunAll(context.Background())

	assert.NoError(t, err)
	assert.Len(t, report.Results, 1)
	assert.Equal(t, []string{"one"}, migrator.applied)
}
