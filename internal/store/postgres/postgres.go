/*
Package postgres is the production Persistent Store (spec §4.1),
implemented over PostgreSQL with github.com/jackc/pgx/v5/stdlib
(registered as a database/sql driver) wrapped in
github.com/jmoiron/sqlx for struct-scanning convenience.

Connection pooling is bounded by config (db.pool_size,
db.max_overflow, db.pool_timeout_seconds); every state mutation runs
inside exactly one *sqlx.Tx, begun by BeginTx and ended by the caller's
Commit or Rollback — one struct, one store, generalized to the
relational capabilities spec §4.1 requires: SELECT ... FOR UPDATE, bulk
UPDATE ... WHERE id IN (...), and a server-authoritative now().
*/
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ihmeuw-scicomp/jobmon/internal/jmlog"
	"github.com/ihmeuw-scicomp/jobmon/internal/store"
)

// Config configures the connection pool (spec §6's db.* options).
type Config struct {
	DSN                string
	PoolSize           int
	MaxOverflow        int
	PoolTimeoutSeconds int
}

// Store is the postgres-backed store.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and bounds the connection pool per cfg.
func Open(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	maxOpen := cfg.PoolSize + cfg.MaxOverflow
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.PoolSize)
	if cfg.PoolTimeoutSeconds > 0 {
		db.SetConnMaxIdleTime(time.Duration(cfg.PoolTimeoutSeconds) * time.Second)
	}

	return &Store{db: db}, nil
}

// Close closes the pool. Every open session must have been released
// before this is called — a session held past its request scope leaks
// a pooled connection (spec §4.1).
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTx opens exactly one transaction for the caller's request.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, log: jmlog.WithComponent("store")}, nil
}
