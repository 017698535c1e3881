package db

import (
	"strings"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// DialectForDSN picks the dialect a DSN should be opened with.
func DialectForDSN(dsn string) string {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lowered, "file:"), strings.HasSuffix(lowered, ".db"), lowered == ":memory:":
		return DialectSQLite
	default:
		return DialectPostgres
	}
}
