// Package database opens the SQL handle behind the chain and idempotency
// stores. Postgres and SQLite are both supported; the driver is picked
// from the DSN.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver (cgo-free)
)

// Open connects to the database named by dsn and verifies the connection.
// postgres:// and postgresql:// DSNs use the pq driver; everything else
// (file paths, file: URIs, :memory:) is treated as SQLite.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping %s: %w", driver, err)
	}
	return db, nil
}
