package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/wpsync/internal/config"
	"github.com/MarcoPoloResearchLab/wpsync/internal/database"
	"github.com/MarcoPoloResearchLab/wpsync/internal/ledger"
	"github.com/MarcoPoloResearchLab/wpsync/internal/logging"
	"github.com/MarcoPoloResearchLab/wpsync/internal/proxy"
	"github.com/MarcoPoloResearchLab/wpsync/internal/transport"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the long-lived services one command invocation needs.
type application struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	ledger *ledger.Service
}

// openApplication loads configuration and opens the ledger. A store that cannot be opened is fatal.
func openApplication() (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		logger.Error("ledger store unavailable", zap.String("path", appConfig.DatabasePath), zap.Error(err))
		_ = logger.Sync()
		return nil, fmt.Errorf("open ledger %s: %w", appConfig.DatabasePath, err)
	}

	service, err := ledger.NewService(ledger.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &application{config: appConfig, logger: logger, db: db, ledger: service}, nil
}

func (a *application) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// transportClient builds the retrying HTTP client, routed through the configured proxy pool and
// recording failed attempts in the operation log.
func (a *application) transportClient() (*transport.Client, error) {
	rotator, err := proxy.NewRotator(a.config.ProxyEndpoints)
	if err != nil {
		return nil, err
	}
	if pool := rotator.Len(); pool > 0 {
		a.logger.Info("routing requests through proxy pool", zap.Int("proxies", pool))
	}
	return transport.NewClient(transport.Config{
		Policy: transport.RetryPolicy{
			MaxAttempts:       a.config.MaxAttempts,
			InitialDelay:      a.config.InitialDelay,
			BackoffMultiplier: a.config.BackoffMultiplier,
		},
		Timeout:   a.config.HTTPTimeout,
		UserAgent: a.config.UserAgent,
		Proxies:   rotator,
		Recorder:  a.ledger,
		Logger:    a.logger,
	})
}
