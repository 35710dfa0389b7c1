package database

import (
	"database/sql"
	"fmt"

	"github.com/donorflow/donorflow/internal/database/schema"
)

// InitializeDatabase creates the engine's tables if they don't exist
func InitializeDatabase(db *sql.DB) error {
	for _, query := range schema.TableDefinitions {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}
