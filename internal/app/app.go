package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/router-for-me/PromptLedger/internal/cache"
	"github.com/router-for-me/PromptLedger/internal/completion"
	"github.com/router-for-me/PromptLedger/internal/config"
	"github.com/router-for-me/PromptLedger/internal/db"
	"github.com/router-for-me/PromptLedger/internal/http/api"
	"github.com/router-for-me/PromptLedger/internal/ledger"
	"github.com/router-for-me/PromptLedger/internal/logging"
	"github.com/router-for-me/PromptLedger/internal/metrics"
	"github.com/router-for-me/PromptLedger/internal/security"
	"github.com/router-for-me/PromptLedger/internal/users"
	log "github.com/sirupsen/logrus"
)

// shutdownTimeout bounds graceful shutdown of the API server.
const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	return db.Migrate(conn.WithContext(ctx))
}

// RunServer boots the API server and the metrics server and blocks until ctx is done.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	serverCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Port > 0 {
		serverCfg.Port = cfg.Port
	}
	if errValidate := serverCfg.Validate(); errValidate != nil {
		return errValidate
	}

	logCloser, errLog := logging.Setup(serverCfg)
	if errLog != nil {
		return fmt.Errorf("setup logging: %w", errLog)
	}
	defer func() { _ = logCloser.Close() }()
	if serverCfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if summary, errDescribe := describeDSN(serverCfg.DatabaseDSN); errDescribe == nil {
		log.WithFields(summary.Fields()).Info("opening database")
	}
	conn, err := db.Open(serverCfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := db.Close(conn); errClose != nil {
			log.WithError(errClose).Warn("close database failed")
		}
	}()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	tokens, err := security.NewTokenService([]byte(serverCfg.JWT.Secret), serverCfg.JWT.Expiry, nil)
	if err != nil {
		return err
	}

	if strings.TrimSpace(serverCfg.Upstream.APIKey) == "" {
		log.Warn("no upstream api key configured (set upstream.api-key or OPENAI_API_KEY)")
	}
	completer := completion.NewClient(completion.Config{
		BaseURL:      serverCfg.Upstream.BaseURL,
		APIKey:       serverCfg.Upstream.APIKey,
		Organization: serverCfg.Upstream.Organization,
		Timeout:      serverCfg.Upstream.Timeout,
	})

	probe, err := cache.NewProbe(serverCfg.CacheURL)
	if err != nil {
		return err
	}
	defer func() { _ = probe.Close() }()

	var serverMetrics *metrics.Metrics
	if serverCfg.Metrics.Enabled() {
		serverMetrics, err = metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
	}

	engine := api.NewEngine(api.Dependencies{
		DB:           conn,
		Tokens:       tokens,
		Directory:    users.NewDirectory(conn),
		Ledger:       ledger.New(conn),
		Completer:    completer,
		Cache:        probe,
		Metrics:      serverMetrics,
		AllowOrigins: serverCfg.CORS.AllowOrigins,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	if serverMetrics != nil {
		metricsAddr := net.JoinHostPort(serverCfg.Host, strconv.Itoa(serverCfg.Metrics.Port))
		go func() {
			if errMetrics := serverMetrics.StartMetricsServer(runCtx, metricsAddr); errMetrics != nil {
				errCh <- fmt.Errorf("metrics server: %w", errMetrics)
			}
		}()
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(serverCfg.Host, strconv.Itoa(serverCfg.Port)),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("starting server on %s with config=%s", server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", errServe)
		}
	}()

	var runErr error
	select {
	case <-runCtx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.WithError(runErr).Error("server stopped")
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", errShutdown)
	}
	return runErr
}
