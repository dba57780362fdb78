package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trade_supervisor/internal/modules/config"
	"trade_supervisor/pkg/db"
	"trade_supervisor/pkg/logger"
)

const defaultMigrationsDir = "migrations"

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log.Named("migrate")); err != nil {
		log.Error("migrate failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if cfg.DB == "" {
		log.Warn("db_dsn is empty, nothing to migrate")
		return nil
	}

	v := viper.New()
	v.SetEnvPrefix("TS")
	v.AutomaticEnv()
	v.SetDefault("migrations_dir", defaultMigrationsDir)
	dir := v.GetString("migrations_dir")

	migrations, err := db.LoadMigrations(dir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: cfg.DB, MaxConns: cfg.DBPool})
	if err != nil {
		return err
	}
	tm := db.NewPgTxManager(pool)
	defer tm.Close()

	applied, err := db.Migrate(ctx, tm, migrations)
	for _, ver := range applied {
		log.Info("migration applied", zap.String("version", ver))
	}
	if err != nil {
		return err
	}
	log.Info("done", zap.String("dir", dir), zap.Int("total", len(migrations)), zap.Int("applied", len(applied)))
	return nil
}
