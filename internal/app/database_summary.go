package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// databaseSummary describes a DSN without its credentials.
type databaseSummary struct {
	Type        string
	Host        string
	Port        int
	User        string
	Name        string
	SSLMode     string
	Path        string
	PasswordSet bool
}

// Fields renders the summary for structured logging.
func (s databaseSummary) Fields() log.Fields {
	if s.Type == "sqlite" {
		return log.Fields{"db_type": s.Type, "db_path": s.Path}
	}
	return log.Fields{
		"db_type":         s.Type,
		"db_host":         s.Host,
		"db_port":         s.Port,
		"db_user":         s.User,
		"db_name":         s.Name,
		"db_sslmode":      s.SSLMode,
		"db_password_set": s.PasswordSet,
	}
}

func describeDSN(dsn string) (databaseSummary, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return databaseSummary{}, fmt.Errorf("empty dsn")
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "file:") {
		pathPart := trimmed[len("file:"):]
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return databaseSummary{Type: "sqlite", Path: strings.TrimSpace(pathPart)}, nil
	}
	if lowered == ":memory:" || strings.HasSuffix(lowered, ".db") {
		return databaseSummary{Type: "sqlite", Path: trimmed}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return databaseSummary{}, fmt.Errorf("parse dsn: %w", errParse)
	}

	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return databaseSummary{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}

		username := ""
		passwordSet := false
		if u.User != nil {
			username = strings.TrimSpace(u.User.Username())
			_, passwordSet = u.User.Password()
		}

		sslMode := strings.TrimSpace(u.Query().Get("sslmode"))
		if sslMode == "" {
			sslMode = "prefer"
		}

		return databaseSummary{
			Type:        "postgres",
			Host:        strings.TrimSpace(u.Hostname()),
			Port:        port,
			User:        username,
			Name:        strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			SSLMode:     sslMode,
			PasswordSet: passwordSet,
		}, nil
	default:
		return databaseSummary{}, fmt.Errorf("unsupported dsn scheme")
	}
}
