package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS push_recipients (
    token TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_push_recipients_owner
    ON push_recipients(owner) WHERE owner != '';
`

// initSchema applies the schema to the database.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
