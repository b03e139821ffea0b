package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPurpose: Validates the database name allow-list that guards identifier
// interpolation into CREATE DATABASE statements.
// Scope: Unit Test
// Security: SQL injection via DDL identifiers (CWE-89)
// Expected: Names outside ^[a-z][a-z0-9_]{2,62}$ are rejected.
// Test Case ID: TEN-04
func TestTenant_ValidateDatabaseName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"acme_co", true},
		{"a1_payroll", true},
		{"abc", true},
		{"ab", false},
		{"", false},
		{"1acme", false},
		{"_acme", false},
		{"Acme", false},
		{"acme-co", false},
		{"acme co", false},
		{"acme;drop database control", false},
		{"acme`", false},
		{"acme'); --", false},
		{string(make([]byte, 64)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDatabaseName(tt.name)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDatabaseName)
			}
		})
	}
}

// TestPurpose: Validates company name slugging into candidate database names.
// Scope: Unit Test
// Expected: Derived names are lower snake_case and pass the allow-list check.
// Test Case ID: TEN-05
func TestTenant_DatabaseNameFromCompany(t *testing.T) {
	tests := []struct {
		company string
		want    string
	}{
		{"Acme Co", "acme_co"},
		{"  Acme  &  Sons  ", "acme_sons"},
		{"42 Widgets", "co_42_widgets"},
		{"Ümlaut GmbH", "mlaut_gmbh"},
	}

	for _, tt := range tests {
		t.Run(tt.company, func(t *testing.T) {
			got := DatabaseNameFromCompany(tt.company)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateDatabaseName(got))
		})
	}
}
