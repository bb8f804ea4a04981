package approval

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ledgerworks/approvald/internal/config"
)

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			NewStoreFromConfig,
			NewDirectoryFromConfig,
			NewAuditSinkFromConfig,
			NewEngine,
		),
		fx.Invoke(registerTemplates),
	)
}

// NewStoreFromConfig builds the Postgres store, or the in-memory store when
// no DSN is configured (dev mode).
func NewStoreFromConfig(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database dsn configured, state will not survive restarts")
		return NewMemoryStore(), nil
	}
	pg, err := NewPGStore(context.Background(), cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pg.Close()
			return nil
		},
	})
	return pg, nil
}

func NewDirectoryFromConfig(cfg config.Config, logger *zap.Logger) Directory {
	if cfg.Directory.BaseURL != "" {
		return NewHTTPDirectory(cfg.Directory.BaseURL, parseDuration(cfg.Directory.Timeout, 5*time.Second))
	}
	if len(cfg.Directory.Static) == 0 {
		logger.Warn("no approver directory configured, role rules will resolve to nobody")
	}
	return StaticDirectory(cfg.Directory.Static)
}

func NewAuditSinkFromConfig(cfg config.Config, logger *zap.Logger) AuditSink {
	if cfg.Audit.BaseURL != "" {
		return NewHTTPAuditSink(cfg.Audit.BaseURL, parseDuration(cfg.Audit.Timeout, 5*time.Second), logger)
	}
	return NewLogAuditSink(logger)
}

func registerTemplates(lc fx.Lifecycle, e *Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := e.EnsureTemplates(ctx); err != nil {
				logger.Warn("builtin template registration failed", zap.Error(err))
			}
			return nil
		},
	})
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	dur, err := time.ParseDuration(raw)
	if err != nil || dur <= 0 {
		return fallback
	}
	return dur
}
