package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/logger"
)

// Watch 监听覆盖文件变化并重新加载, 阻塞直到 ctx 结束。
//
// 监听所在目录而非文件本身: 编辑器保存时常以 rename 替换文件, 直接监听文件会丢失后续事件。
// onReload 可为 nil, 每次成功加载后调用。
func (c *Catalog) Watch(ctx context.Context, debounce time.Duration, onReload func()) error {
	if c.path == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "Catalog.Watch", "no override path configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, "Catalog.Watch", "create watcher")
	}
	defer w.Close()

	target := filepath.Clean(c.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return apperrors.Wrapf(err, "Catalog.Watch", "watch %s", filepath.Dir(target))
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog: watcher error", logger.FieldError, err)

		case <-timer.C:
			if err := c.Reload(); err != nil {
				logger.Warn("catalog: reload failed, keeping previous tables",
					logger.FieldPath, target, logger.FieldError, err)
				continue
			}
			logger.Info("catalog: reloaded", logger.FieldPath, target)
			if onReload != nil {
				onReload()
			}
		}
	}
}
