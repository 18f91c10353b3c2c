package database

import (
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaDDL string

// ApplySchema creates the tables and indexes if they do not exist yet.
// Every statement is idempotent so it is safe to run at each startup.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}
