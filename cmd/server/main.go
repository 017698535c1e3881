package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/PromptLedger/internal/app"
	"github.com/router-for-me/PromptLedger/internal/config"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := run(ctx, os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("command failed")
		stop()
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server or a one-shot command.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promptledger", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", config.DefaultPort, "server port (overrides the config file when set)")
	migrate := fs.Bool("migrate", false, "run database migrations and exit")
	writeConfig := fs.Bool("write-config", false, "write a starter config file with a random JWT secret and exit")
	dsn := fs.String("dsn", "", "database DSN for -write-config (overrides the -db-* flags)")
	dbType := fs.String("db-type", "postgres", "database type for -write-config: postgres or sqlite")
	dbHost := fs.String("db-host", "localhost", "postgres host for -write-config")
	dbPort := fs.Int("db-port", 5432, "postgres port for -write-config")
	dbUser := fs.String("db-user", "", "postgres user for -write-config")
	dbPassword := fs.String("db-password", "", "postgres password for -write-config")
	dbName := fs.String("db-name", "openai_wrapper", "postgres database for -write-config")
	dbSSLMode := fs.String("db-sslmode", "disable", "postgres sslmode for -write-config")
	dbPath := fs.String("db-path", "", "sqlite file path for -write-config")
	checkDB := fs.Bool("check-db", false, "with -write-config, connect and migrate before writing")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}
	portSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "port" {
			portSet = true
		}
	})

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}
	if portSet {
		appCfg.Port = *port
	}
	configPath := config.ResolveConfigPath(appCfg.ConfigPath)

	switch {
	case *writeConfig:
		return app.Bootstrap(configPath, app.BootstrapOptions{
			DatabaseType:     *dbType,
			DatabaseHost:     *dbHost,
			DatabasePort:     *dbPort,
			DatabaseUser:     *dbUser,
			DatabasePassword: *dbPassword,
			DatabaseName:     *dbName,
			DatabasePath:     *dbPath,
			DatabaseSSLMode:  *dbSSLMode,
			DatabaseDSN:      *dsn,
			Port:             *port,
			CheckDatabase:    *checkDB,
		})
	case *migrate:
		log.Infof("running migrations with config=%s", configPath)
		return app.Migrate(ctx, appCfg)
	}

	if !app.ConfigExists(configPath) {
		log.Infof("config file %s not found, using defaults and environment", configPath)
	}
	return app.RunServer(ctx, appCfg)
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
