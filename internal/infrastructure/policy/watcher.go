package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/accessgate/pkg/errors"
	"github.com/turtacn/accessgate/pkg/logger"
)

// DefaultReloadDebounce coalesces the burst of events an editor save produces.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watch reloads the policy file whenever it changes until ctx is cancelled.
// The parent directory is watched so atomic rename-into-place saves are seen.
// A document that fails to load is logged and the previous one stays active.
func (e *Engine) Watch(ctx context.Context) error {
	e.pathMu.Lock()
	path := e.path
	e.pathMu.Unlock()
	if path == "" {
		return errors.ErrInvalidPolicy("no policy file to watch")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.ErrInvalidPolicy("policy file path").WithCause(err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.ErrInternal("create policy watcher").WithCause(err)
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		return errors.ErrInternal("watch policy directory").WithCause(err)
	}
	e.log.Info(ctx, "Watching policy file", logger.String("path", absPath))

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			e.log.Debug(ctx, "Policy file changed",
				logger.String("path", event.Name),
				logger.String("op", event.Op.String()),
			)
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(DefaultReloadDebounce)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			if err := e.Reload(); err == nil {
				e.log.Info(ctx, "Policy reloaded", logger.String("path", absPath))
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			e.log.Error(ctx, "Policy watcher error", err)
		}
	}
}

//Personal.AI order the ending
