// cmd/migrate — 对 POSTGRES_CONNECTION_STRING 执行 turn 存储迁移。
package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/config"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/database"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/migrations"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "迁移目录 (为空时使用内嵌迁移)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", logger.FieldError, err)
	}
	logger.Init(cfg.AppEnv, cfg.LogLevel)
	if cfg.PostgresConnStr == "" {
		logger.Fatal("POSTGRES_CONNECTION_STRING is required")
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("postgres connect failed", logger.FieldError, err)
	}
	defer pool.Close()

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	if err := database.Migrate(ctx, pool, fsys); err != nil {
		logger.Fatal("migration failed", logger.FieldPath, *dir, logger.FieldError, err)
	}
	logger.Info("migration complete")
}
