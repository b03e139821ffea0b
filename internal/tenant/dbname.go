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
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidDatabaseName indicates a requested database name failed the
// allow-list check and was rejected before any side effect.
var ErrInvalidDatabaseName = errors.New("invalid database name")

// Database identifiers are interpolated into CREATE DATABASE statements, which
// cannot be parameter-bound. The allow-list below is a hard boundary: lower
// snake_case, starts with a letter, 3-63 characters total.
var databaseNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,62}$`)

// ValidateDatabaseName rejects any name outside the allow-listed character set.
func ValidateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidDatabaseName, name, databaseNamePattern.String())
	}
	return nil
}

// DatabaseNameFromCompany derives a candidate database name from a company
// name. The result still passes through ValidateDatabaseName before use.
func DatabaseNameFromCompany(company string) string {
	var b strings.Builder
	lastUnderscore := true // trim leading separators
	for _, r := range strings.ToLower(company) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if name != "" && (name[0] < 'a' || name[0] > 'z') {
		name = "co_" + name
	}
	if len(name) > 63 {
		name = strings.Trim(name[:63], "_")
	}
	return name
}
