package db

import (
	"fmt"

	"github.com/router-for-me/PromptLedger/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Request{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errIndex := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_requests_user_id_id
		ON requests (user_id, id)
	`).Error; errIndex != nil {
		return fmt.Errorf("db: create requests owner index: %w", errIndex)
	}
	return nil
}
