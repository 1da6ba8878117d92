package main

import (
	"errors"
	"flag"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"feedsync/internal/pkg/config"
	"feedsync/pkg/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back one migration")
	source := flag.String("source", "file://migrations", "migration source")
	flag.Parse()

	_ = logger.Init("dev", true)
	defer logger.Sync()

	if err := config.LoadConfig(); err != nil {
		logger.Log.Fatal("Failed to load config", zap.Error(err))
	}

	m, err := migrate.New(*source, config.GlobalConfig.Database.URL())
	if err != nil {
		logger.Log.Fatal("Failed to init migrate", zap.Error(err))
	}
	defer m.Close()

	if *down {
		if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Log.Fatal("Rollback failed", zap.Error(err))
		}
		logger.Log.Info("Rollback successful")
		return
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		// dirty 状态: 强制回到当前版本后重试
		var dirty migrate.ErrDirty
		if !errors.As(err, &dirty) {
			logger.Log.Fatal("Migration failed", zap.Error(err))
		}
		logger.Log.Warn("Database is dirty, forcing version", zap.Int("version", dirty.Version))
		if err := m.Force(dirty.Version); err != nil {
			logger.Log.Fatal("Failed to force version", zap.Error(err))
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Log.Fatal("Migration failed", zap.Error(err))
		}
	}

	logger.Log.Info("Migration successful")
}
