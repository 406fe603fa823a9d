package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// markSyncedInts sets row_synced = 1 for exactly the given int primary keys,
// in a dedicated transaction separate from the push RPC that acknowledged
// them — a crash between ack and this call means at worst a redundant
// re-push, which the remote upsert makes safe.
func markSyncedInts(ctx context.Context, conn *sql.DB, table, pkCol string, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("UPDATE %s SET row_synced = 1 WHERE %s IN (%s)", table, pkCol, strings.Join(placeholders, ","))
	if _, err := conn.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db: mark %s synced: %w", table, err)
	}
	return nil
}

func markSyncedInt64s(ctx context.Context, conn *sql.DB, table, pkCol string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("UPDATE %s SET row_synced = 1 WHERE %s IN (%s)", table, pkCol, strings.Join(placeholders, ","))
	if _, err := conn.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db: mark %s synced: %w", table, err)
	}
	return nil
}

func markSyncedStrings(ctx context.Context, conn *sql.DB, table, pkCol string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := fmt.Sprintf("UPDATE %s SET row_synced = 1 WHERE %s IN (%s)", table, pkCol, strings.Join(placeholders, ","))
	if _, err := conn.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("db: mark %s synced: %w", table, err)
	}
	return nil
}
