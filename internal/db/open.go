package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL or SQLite depending on the DSN.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch DialectForDSN(trimmed) {
	case DialectSQLite:
		conn, err := gorm.Open(sqlite.Open(buildSQLiteDSN(trimmed)), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", err)
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", err)
		}
		// SQLite allows a single writer at a time.
		sqlDB.SetMaxOpenConns(1)
		return conn, nil
	default:
		conn, err := gorm.Open(postgres.Open(trimmed), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open postgres: %w", err)
		}
		return conn, nil
	}
}

// Ping verifies the connection is alive.
func Ping(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("db: sql handle: %w", err)
	}
	return sqlDB.Ping()
}

// Close releases the underlying connection pool.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("db: sql handle: %w", err)
	}
	return sqlDB.Close()
}

// buildSQLiteDSN appends the pragmas the schema relies on.
func buildSQLiteDSN(dsn string) string {
	out := strings.TrimSpace(dsn)
	if !strings.HasPrefix(strings.ToLower(out), "file:") {
		out = "file:" + out
	}
	pragmas := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
	}
	missing := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		name, _, _ := strings.Cut(strings.TrimPrefix(p, "_pragma="), "(")
		if strings.Contains(out, "_pragma="+name) {
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return out
	}
	separator := "?"
	if strings.Contains(out, "?") {
		separator = "&"
	}
	return out + separator + strings.Join(missing, "&")
}
