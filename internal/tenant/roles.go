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

// Principal roles. Authentication is owned by an external identity provider;
// the core only reads the role and tenant reference off an already
// authenticated principal.
const (
	// RolePlatformOperator marks platform staff. Operator requests bypass the
	// tenant switch and run against control-plane data only.
	RolePlatformOperator = "platform_operator"

	RoleTenantAdmin  = "tenant_admin"
	RoleTenantMember = "tenant_member"
)

// Principal is the authenticated caller as presented by the external identity
// layer: an opaque user reference, a role, and an optional tenant reference.
type Principal struct {
	UserID   string
	Role     string
	TenantID *string
}

// IsOperator reports whether the principal is platform staff.
func (p Principal) IsOperator() bool {
	return p.Role == RolePlatformOperator
}
