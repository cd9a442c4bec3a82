// Package placementdb rewrites the tenant-placement database's host/node
// columns during a resurrection. The original implementation targets
// MySQL; this binds the same contract to Postgres via pgx, the placement
// database driver present in the retrieved dependency pack (see
// DESIGN.md for the substitution rationale).
package placementdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Rewriter is the placement-database contract the Resurrector depends on,
// narrow enough that tests can substitute an in-memory fake instead of a
// real Postgres connection.
type Rewriter interface {
	RewriteHost(ctx context.Context, tenantIDs []string, newHost string) error
}

// DB is a connection pool to the tenant-placement database.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and verifies connectivity.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("placementdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("placementdb: ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// RewriteHost moves every tenant UUID in tenantIDs onto newHost, updating
// both the `host` and `node` columns in one transaction. All rows commit
// together or none do, matching the resurrection contract's requirement
// that the placement rewrite is one atomic step.
func (d *DB) RewriteHost(ctx context.Context, tenantIDs []string, newHost string) error {
	if len(tenantIDs) == 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("placementdb: begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const stmt = `UPDATE instances SET host = $1, node = $1 WHERE uuid = $2`
	for _, id := range tenantIDs {
		if _, err := tx.Exec(ctx, stmt, newHost, id); err != nil {
			return fmt.Errorf("placementdb: update %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("placementdb: commit: %w", err)
	}
	return nil
}

// EnsureSchema creates the instances table if it does not already exist,
// matching the teacher's ensureSchema-on-connect pattern.
func (d *DB) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS instances (
		uuid TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		node TEXT NOT NULL
	)`
	_, err := d.pool.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("placementdb: ensure schema: %w", err)
	}
	return nil
}
