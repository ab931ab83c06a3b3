package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// OpenSQLite opens a SQLite database file and, when migrate is set, creates the schema.
// The path can be a file path or ":memory:".
func OpenSQLite(ctx context.Context, path string, migrate bool) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to open sqlite database: %w", err)
	}
	// a single writer keeps :memory: databases shared and avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("[DATABASE CONNECTION FAILED] cannot open %s: %w", path, err)
	}

	if migrate {
		for i, stmt := range Schema(SQLite) {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("[DATABASE] failed to apply schema statement %d: %w", i+1, err)
			}
		}
	}

	return conn, nil
}

// NewSQLite opens a SQLite database bound to the fx lifecycle
func NewSQLite(lc fx.Lifecycle, logger *zap.Logger, path string, migrate bool) (*sql.DB, error) {
	logger.Info("opening sqlite database", zap.String("path", path))

	conn, err := OpenSQLite(context.Background(), path, migrate)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := conn.Close(); err != nil {
				logger.Error("failed to close sqlite database", zap.Error(err))
				return err
			}
			logger.Info("database connection closed")
			return nil
		},
	})

	return conn, nil
}
