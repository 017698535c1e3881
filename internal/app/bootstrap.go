package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/router-for-me/PromptLedger/internal/config"
	"github.com/router-for-me/PromptLedger/internal/db"
	"github.com/router-for-me/PromptLedger/internal/security"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned when bootstrap would overwrite an existing config file.
var ErrConfigExists = errors.New("config file already exists")

// BootstrapOptions contains parameters for writing a starter config file.
type BootstrapOptions struct {
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string
	DatabasePath     string
	DatabaseSSLMode  string
	DatabaseDSN      string
	Port             int
	CheckDatabase    bool
}

// ConfigExists reports whether the config file exists at the path.
func ConfigExists(configPath string) bool {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return false
	}
	return true
}

// defaultSQLitePath is the default SQLite database file name.
const defaultSQLitePath = "promptledger.db"

// BuildDSN builds a database DSN from bootstrap options. An explicit DSN wins.
func BuildDSN(opts BootstrapOptions) (string, error) {
	if dsn := strings.TrimSpace(opts.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	switch strings.ToLower(strings.TrimSpace(opts.DatabaseType)) {
	case "", "postgres":
		sslMode := opts.DatabaseSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			opts.DatabaseUser,
			opts.DatabasePassword,
			opts.DatabaseHost,
			opts.DatabasePort,
			opts.DatabaseName,
			sslMode,
		), nil
	case "sqlite":
		path := strings.TrimSpace(opts.DatabasePath)
		if path == "" {
			path = defaultSQLitePath
		}
		if !strings.HasPrefix(strings.ToLower(path), "file:") {
			path = "file:" + path
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported database type")
	}
}

// validateBootstrapOptions normalizes and validates bootstrap input.
func validateBootstrapOptions(opts *BootstrapOptions) error {
	if strings.TrimSpace(opts.DatabaseDSN) != "" {
		return nil
	}
	dbType := strings.ToLower(strings.TrimSpace(opts.DatabaseType))
	if dbType == "" {
		dbType = "postgres"
	}
	opts.DatabaseType = dbType

	switch dbType {
	case "postgres":
		if strings.TrimSpace(opts.DatabaseHost) == "" {
			return fmt.Errorf("database host is required")
		}
		if opts.DatabasePort <= 0 {
			return fmt.Errorf("invalid database port")
		}
		if strings.TrimSpace(opts.DatabaseUser) == "" {
			return fmt.Errorf("database username is required")
		}
		if strings.TrimSpace(opts.DatabaseName) == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if strings.TrimSpace(opts.DatabasePath) == "" {
			opts.DatabasePath = defaultSQLitePath
		}
	default:
		return fmt.Errorf("unsupported database type")
	}
	return nil
}

// CheckDatabaseConnection validates that the DSN can connect, ping and migrate.
func CheckDatabaseConnection(dsn string) error {
	conn, err := db.Open(dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.Errorf("sql db close error: %v", errClose)
		}
	}()
	if errPing := db.Ping(conn); errPing != nil {
		return fmt.Errorf("failed to ping database: %w", errPing)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return fmt.Errorf("failed to migrate database: %w", errMigrate)
	}
	return nil
}

// configFile maps YAML fields for the generated config file.
type configFile struct {
	Host          string      `yaml:"host"`
	Port          int         `yaml:"port"`
	DatabaseDSN   string      `yaml:"database-dsn"`
	Debug         bool        `yaml:"debug"`
	LoggingToFile bool        `yaml:"logging-to-file"`
	JWT           jwtCfg      `yaml:"jwt"`
	Upstream      upstreamCfg `yaml:"upstream"`
	CacheURL      string      `yaml:"cache-url"`
	Metrics       metricsCfg  `yaml:"metrics"`
	CORS          corsCfg     `yaml:"cors"`
}

// jwtCfg holds JWT settings for the generated config file.
type jwtCfg struct {
	Secret string `yaml:"secret"`
	Expiry string `yaml:"expiry"`
}

// upstreamCfg holds completion API settings for the generated config file.
type upstreamCfg struct {
	BaseURL string `yaml:"base-url"`
	APIKey  string `yaml:"api-key"`
}

// metricsCfg holds metrics settings for the generated config file.
type metricsCfg struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

// corsCfg holds CORS settings for the generated config file.
type corsCfg struct {
	AllowOrigins []string `yaml:"allow-origins"`
}

// generateJWTSecret creates a random JWT secret string.
func generateJWTSecret() (string, error) {
	secret, err := security.GenerateRandomString(32)
	if err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return secret, nil
}

// WriteConfigFile writes a starter config file with a fresh signing secret.
func WriteConfigFile(configPath string, dsn string, port int) error {
	if port <= 0 {
		port = config.DefaultPort
	}
	secret, errSecret := generateJWTSecret()
	if errSecret != nil {
		return errSecret
	}
	cfg := configFile{
		Host:        "",
		Port:        port,
		DatabaseDSN: dsn,
		JWT: jwtCfg{
			Secret: secret,
			Expiry: "15m",
		},
		Upstream: upstreamCfg{
			BaseURL: config.DefaultUpstreamBaseURL,
		},
		Metrics: metricsCfg{
			Enable: true,
			Port:   config.DefaultMetricsPort,
		},
		CORS: corsCfg{
			AllowOrigins: []string{"*"},
		},
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(configPath)
	if errMkdir := os.MkdirAll(dir, 0755); errMkdir != nil {
		return fmt.Errorf("create config dir: %w", errMkdir)
	}

	if errWrite := os.WriteFile(configPath, data, 0600); errWrite != nil {
		return fmt.Errorf("write config file: %w", errWrite)
	}

	return nil
}

// Bootstrap validates opts, optionally checks the database, and writes the config file.
func Bootstrap(configPath string, opts BootstrapOptions) error {
	if ConfigExists(configPath) {
		return fmt.Errorf("%w: %s", ErrConfigExists, configPath)
	}
	if errValidate := validateBootstrapOptions(&opts); errValidate != nil {
		return errValidate
	}
	dsn, errBuild := BuildDSN(opts)
	if errBuild != nil {
		return errBuild
	}
	if opts.CheckDatabase {
		if errCheck := CheckDatabaseConnection(dsn); errCheck != nil {
			return errCheck
		}
	}
	if errWrite := WriteConfigFile(configPath, dsn, opts.Port); errWrite != nil {
		return errWrite
	}
	log.Infof("wrote config file %s", configPath)
	return nil
}
