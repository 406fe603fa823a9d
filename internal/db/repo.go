// Package db holds the per-table repository methods shared by every
// component. Every write path opens a transaction, mutates, and commits —
// no transaction is ever held across a network call or inference, per the
// concurrency contract.
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Repo wraps the shared *sql.DB with per-table query methods.
type Repo struct {
	DB *sql.DB
}

// New wraps an already-open, already-migrated database handle.
func New(conn *sql.DB) *Repo {
	return &Repo{DB: conn}
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (r *Repo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
