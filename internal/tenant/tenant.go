package tenant

import (
	"time"
)

// Tenant represents one isolated customer organization. Each tenant owns a
// dedicated physical database named DatabaseName; no two tenants ever share one.
type Tenant struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	DatabaseName   string     `json:"database_name"`
	Host           string     `json:"host,omitempty"`
	SchemaApplied  bool       `json:"schema_applied"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedBy      string     `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ProvisionedAt  *time.Time `json:"provisioned_at,omitempty"`
}

// Routable reports whether requests may be switched onto this tenant's
// database. A half-provisioned tenant (registry row exists, schema apply
// failed) is recorded but not routable.
func (t *Tenant) Routable() bool {
	return t.DatabaseName != "" && t.SchemaApplied
}
