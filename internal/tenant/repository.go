package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound          = errors.New("tenant not found")
	ErrApplicationNotFound     = errors.New("application not found")
	ErrDuplicateDatabase       = errors.New("database name already claimed")
	ErrDuplicateTransactionRef = errors.New("transaction reference already exists")
	ErrPaymentAlreadySettled   = errors.New("payment already settled")
)

// Repository defines the interface for tenant registry storage.
// The registry lives in the control-plane database; its uniqueness constraint
// on database_name is the final race-breaker for concurrent provisioning.
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByDatabaseName(ctx context.Context, databaseName string) (*Tenant, error)
	GetByHost(ctx context.Context, host string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*Tenant, error)
}

// ApplicationRepository defines the interface for signup application storage.
// Settle is the only way to move an application out of Pending: the store must
// apply the pending precondition and the status write as one atomic operation,
// returning ErrPaymentAlreadySettled when the application is no longer pending,
// so concurrent gateway callbacks cannot both win.
type ApplicationRepository interface {
	Create(ctx context.Context, app *Application) error
	GetByID(ctx context.Context, id string) (*Application, error)
	GetByTransactionRef(ctx context.Context, ref string) (*Application, error)
	Settle(ctx context.Context, transactionRef string, status PaymentStatus) (*Application, error)
	Update(ctx context.Context, app *Application) error
	List(ctx context.Context, limit, offset int) ([]*Application, error)
}
