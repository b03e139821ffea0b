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

import "time"

// PaymentStatus is the settlement state of a signup application.
// It transitions Pending -> Paid or Pending -> Failed exactly once, driven by
// the payment gateway callback keyed by TransactionRef.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// Settled reports whether the status is terminal.
func (s PaymentStatus) Settled() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// Application is a pre-tenant signup record. A Paid application is eligible
// for promotion into a Tenant via the provisioning service; promotion is
// idempotent per TransactionRef.
type Application struct {
	ID             string        `json:"id"`
	CompanyName    string        `json:"company_name"`
	Email          string        `json:"email"`
	RequestedPlan  string        `json:"requested_plan"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	TransactionRef string        `json:"transaction_ref"`
	TenantCreated  bool          `json:"tenant_created"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
