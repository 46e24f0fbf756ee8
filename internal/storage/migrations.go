package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Migrate runs all database migrations
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		createRequestsTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

const createRequestsTable = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	network TEXT NOT NULL,
	requester TEXT NOT NULL,
	query TEXT NOT NULL,
	outcome TEXT NOT NULL,
	collected INTEGER NOT NULL DEFAULT 0,
	matched INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	timestamp DATETIME NOT NULL
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_requests_network_timestamp ON requests(network, timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_outcome ON requests(outcome);
`
