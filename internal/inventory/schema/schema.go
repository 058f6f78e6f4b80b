// Package schema holds the inventory service's PostgreSQL DDL.
package schema

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var ddl string

// DDL returns the full schema script. Every statement is idempotent.
func DDL() string {
	return ddl
}

// Apply runs the schema script against db.
func Apply(ctx context.Context, db sqlx.ExecerContext) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to apply inventory schema: %w", err)
	}
	return nil
}
