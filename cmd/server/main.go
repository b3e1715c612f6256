// cmd/server — SuperAgent 会话 relay 主入口。
//
// 上游 SSE 流 → 会话消息列表, 通过 REST / SSE / WebSocket 暴露给前端。
package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/agentclient"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/apiserver"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/bus"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/catalog"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/config"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/conversation"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/database"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/internal/store"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/migrations"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

const (
	shutdownTimeout = 5 * time.Second
	catalogDebounce = 200 * time.Millisecond
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", logger.FieldError, err)
	}
	logger.Init(cfg.AppEnv, cfg.LogLevel)

	if err := run(ctx, cfg); err != nil {
		logger.Fatal("server exited", logger.FieldError, err)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Warn("catalog override ignored", logger.FieldPath, cfg.CatalogPath, logger.FieldError, err)
		cat = catalog.Default()
	}

	turns, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if turns != nil {
		defer func() {
			if err := turns.Close(); err != nil {
				logger.Warn("store close failed", logger.FieldError, err)
			}
		}()
	}

	client := agentclient.New(cfg.AgentBaseURL, cfg.AgentAPIToken, 0)
	opts := conversation.Options{
		Upstream:       client,
		History:        client,
		Labels:         cat,
		RequestTimeout: cfg.AgentRequestTimeout(),
	}
	if turns != nil {
		opts.Recorder = turns
		if cfg.HistorySource == config.HistoryLocal {
			opts.History = turns
		}
	}
	msgBus := bus.NewMessageBus()
	opts.Bus = msgBus

	mgr, err := conversation.NewManager(opts)
	if err != nil {
		return err
	}

	srv := apiserver.New(apiserver.Deps{
		Manager:        mgr,
		Bus:            msgBus,
		SendRatePerMin: cfg.SendRatePerMin,
		KeepAlive:      cfg.SSEKeepalive(),
		AllowedOrigins: cfg.AllowedOrigins,
		Development:    cfg.IsDevelopment(),
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening",
			logger.FieldAddr, cfg.ListenAddr,
			logger.FieldURL, cfg.AgentBaseURL,
			logger.FieldDriver, cfg.StoreDriver,
			logger.FieldSource, cfg.HistorySource)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.CatalogWatch && cfg.CatalogPath != "" {
		g.Go(func() error {
			err := cat.Watch(gctx, catalogDebounce, func() {
				logger.Info("catalog reloaded", logger.FieldPath, cfg.CatalogPath)
			})
			if err != nil {
				logger.Warn("catalog watch stopped", logger.FieldError, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", logger.FieldError, err)
		}
		if err := mgr.Close(shutdownCtx); err != nil {
			logger.Warn("conversation manager close error", logger.FieldError, err)
		}
		return nil
	})
	return g.Wait()
}

// openStore 按驱动打开本地 turn 存储; none 返回 nil。
func openStore(ctx context.Context, cfg *config.Config) (store.TurnStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, migrationFS(cfg.MigrationsDir)); err != nil {
			pool.Close()
			return nil, err
		}
		return store.NewPGTurnStore(pool), nil
	case config.DriverSQLite:
		s, err := store.NewSQLiteTurnStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// migrationFS 优先使用磁盘上的迁移目录, 不存在时回落到内嵌文件。
func migrationFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}
