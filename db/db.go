package db

import (
	"context"
	"strings"

	"martingale_bot/interfaces"
)

// Open picks the store from dsn: postgres:// and postgresql:// URLs go to
// PostgreSQL, anything else is a SQLite file path (an optional sqlite://
// prefix is stripped).
func Open(ctx context.Context, dsn string) (interfaces.Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	default:
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
}
