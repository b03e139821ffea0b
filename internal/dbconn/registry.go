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

// Package dbconn provides the process-wide connection registry: one fixed
// control-plane pool plus lazily-dialed tenant pools keyed by database name.
//
// There is deliberately no mutable "current tenant" slot. Every request takes
// its own pool handle from the registry and carries it in its context, so
// concurrent requests for different tenants can never observe each other's
// connection target.
package dbconn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConnectionUnavailable indicates a database could not be reached. The
// registry never falls back to a previous or default target; callers must
// treat this as a hard per-request failure.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// ErrPoolLimit indicates the registry is already holding the configured
// maximum number of tenant pools.
var ErrPoolLimit = errors.New("tenant pool limit reached")

// Registry owns the control-plane pool and all tenant pools. Safe for
// concurrent use.
type Registry struct {
	control  *pgxpool.Pool
	template Params
	maxPools int

	// dialFn and closeFn default to the real pgxpool implementations;
	// overridable in tests.
	dialFn  func(context.Context, Params) (*pgxpool.Pool, error)
	closeFn func(*pgxpool.Pool)

	mu     sync.Mutex
	closed bool
	pools  map[string]*poolEntry
}

func (r *Registry) dialPool(ctx context.Context, params Params) (*pgxpool.Pool, error) {
	if r.dialFn != nil {
		return r.dialFn(ctx, params)
	}
	return dial(ctx, params)
}

func (r *Registry) closePool(pool *pgxpool.Pool) {
	if r.closeFn != nil {
		r.closeFn(pool)
		return
	}
	pool.Close()
}

// poolEntry dials at most once per registry generation of a database name.
// Concurrent callers for the same name share one dial attempt; failed entries
// are removed so the next call retries.
type poolEntry struct {
	once sync.Once
	pool *pgxpool.Pool
	err  error
}

// New dials the fixed control-plane database and prepares the registry for
// tenant pools derived from the tenant template.
func New(ctx context.Context, control Params, tenantTemplate Params, maxPools int) (*Registry, error) {
	pool, err := dial(ctx, control)
	if err != nil {
		return nil, fmt.Errorf("control-plane database: %w", err)
	}

	if maxPools <= 0 {
		maxPools = 256
	}

	return &Registry{
		control:  pool,
		template: tenantTemplate,
		maxPools: maxPools,
		pools:    make(map[string]*poolEntry),
	}, nil
}

// Control returns the fixed control-plane pool. It is never swapped for the
// lifetime of the process.
func (r *Registry) Control() *pgxpool.Pool {
	return r.control
}

// Tenant returns a usable pool for the named tenant database, dialing lazily.
// The dial is bounded by the template's connect timeout. An unreachable
// database yields ErrConnectionUnavailable.
func (r *Registry) Tenant(ctx context.Context, databaseName string) (*pgxpool.Pool, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: registry closed", ErrConnectionUnavailable)
		}
		entry, ok := r.pools[databaseName]
		if !ok {
			if len(r.pools) >= r.maxPools {
				r.mu.Unlock()
				return nil, fmt.Errorf("%w: %d pools", ErrPoolLimit, r.maxPools)
			}
			entry = &poolEntry{}
			r.pools[databaseName] = entry
		}
		r.mu.Unlock()

		// Dial outside the map lock so one slow tenant cannot stall the others.
		entry.once.Do(func() {
			entry.pool, entry.err = r.dialPool(ctx, r.template.WithDatabase(databaseName))
		})

		if entry.err != nil {
			// Drop the failed entry so the next request retries the dial.
			r.mu.Lock()
			if r.pools[databaseName] == entry {
				delete(r.pools, databaseName)
			}
			r.mu.Unlock()
			return nil, entry.err
		}

		// Invalidate may have removed the entry while the dial was still in
		// flight. That pool targets stale parameters and nothing else holds a
		// reference to close it, so discard it and dial the current entry.
		r.mu.Lock()
		current := r.pools[databaseName] == entry
		r.mu.Unlock()
		if current {
			return entry.pool, nil
		}
		r.closePool(entry.pool)

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, databaseName, err)
		}
	}
}

// Invalidate discards any cached pool for the named database so the next
// Tenant call re-dials with fresh parameters. In-flight requests holding the
// old pool drain before it closes; a caller observes either the old healthy
// pool or a freshly dialed one, never a half state.
func (r *Registry) Invalidate(databaseName string) {
	r.mu.Lock()
	entry, ok := r.pools[databaseName]
	if ok {
		delete(r.pools, databaseName)
	}
	r.mu.Unlock()

	if ok && entry.pool != nil {
		// Close waits for checked-out connections to be released. An entry
		// whose dial is still in flight has a nil pool here; the dialing
		// request detects the removal and closes the pool itself.
		go r.closePool(entry.pool)
	}
}

// TenantDSN renders the connection URL for a tenant database, for tooling
// that speaks database/sql (schema migration).
func (r *Registry) TenantDSN(databaseName string) string {
	return r.template.WithDatabase(databaseName).URL()
}

// Close closes the control pool and every tenant pool. Subsequent Tenant
// calls fail with ErrConnectionUnavailable.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*poolEntry, 0, len(r.pools))
	for name, entry := range r.pools {
		entries = append(entries, entry)
		delete(r.pools, name)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		if entry.pool != nil {
			r.closePool(entry.pool)
		}
	}
	r.control.Close()
}

// dial establishes and verifies a pool within the params' connect timeout.
func dial(ctx context.Context, params Params) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(params.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config for %s: %w", params.Database, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, params.connectTimeout())
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, params.Database, err)
	}

	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionUnavailable, params.Database, err)
	}

	return pool, nil
}
