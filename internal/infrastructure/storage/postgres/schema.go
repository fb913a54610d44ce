package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"costengine/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// ApplySchema creates the engine's tables. Every statement is idempotent.
func ApplySchema(ctx context.Context, pool *Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info(ctx, "database schema applied")
	return nil
}
