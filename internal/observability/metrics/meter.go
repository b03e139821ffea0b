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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}

	// Get meter from global meter provider
	// In production, configure a proper meter provider with exporters
	meter := otel.Meter(serviceName)

	return &Meter{
		meter: meter,
	}, nil
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// Platform carries the control-plane instruments. Nil-safe: a nil Platform
// records nothing, so call sites don't need to guard.
type Platform struct {
	tenantSwitches metric.Int64Counter
	provisionRuns  metric.Float64Histogram
}

// NewPlatform builds the control-plane instrument set.
func NewPlatform(m *Meter) (*Platform, error) {
	switches, err := m.meter.Int64Counter(
		"tenant_switches_total",
		metric.WithDescription("Tenant connection switch outcomes per request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create switch counter: %w", err)
	}

	provisions, err := m.meter.Float64Histogram(
		"tenant_provision_duration_seconds",
		metric.WithDescription("Wall time of tenant provisioning runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provision histogram: %w", err)
	}

	return &Platform{
		tenantSwitches: switches,
		provisionRuns:  provisions,
	}, nil
}

// RecordSwitch counts one connection switch with its outcome: switched,
// bypassed, or failed.
func (p *Platform) RecordSwitch(ctx context.Context, outcome string) {
	if p == nil {
		return
	}
	p.tenantSwitches.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProvision records one provisioning run's duration and outcome.
func (p *Platform) RecordProvision(ctx context.Context, seconds float64, succeeded bool) {
	if p == nil {
		return
	}
	p.provisionRuns.Record(ctx, seconds, metric.WithAttributes(attribute.Bool("success", succeeded)))
}
