// Package store holds what the remote data stores share: the errors every
// backend reports and the SQL schema they are built on.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate is returned when a write hits a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate key")
	// ErrNotFound is returned when a lookup matched no row.
	ErrNotFound = errors.New("not found")
)

// Schema creates the tables, constraints and the change-notification
// trigger used by the SQL stores.
//
//go:embed schema.sql
var Schema string

// Migrate applies Schema. Every statement in it is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// NotifyChannel is the Postgres channel the change trigger publishes on.
const NotifyChannel = "framez_changes"

// MaxNotifyPayload is the size, in bytes, at which Postgres rejects a
// notification payload.
const MaxNotifyPayload = 8000

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// IsForeignKeyViolation reports whether err is a Postgres
// foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == foreignKeyViolation
	}
	return false
}
