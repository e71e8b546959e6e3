package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/msgflux/internal/permission"
)

// Holder keeps the current permission guard and swaps it when the backing
// file changes. A failed reload keeps the previous guard.
type Holder struct {
	mu       sync.RWMutex
	guard    *permission.Guard
	path     string
	logger   zerolog.Logger
	onChange []func(*permission.Guard)
	onReload []func(at time.Time, err error)
	done     chan struct{}
}

// NewHolder loads path and returns a holder serving it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	guard, err := LoadPermissions(path)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return &Holder{
		guard:  guard,
		path:   absPath,
		logger: logger.With().Str("component", "permissions").Logger(),
	}, nil
}

// Guard returns the current guard.
func (h *Holder) Guard() *permission.Guard {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.guard
}

func (h *Holder) Path() string { return h.path }

// OnChange registers fn to receive each successfully reloaded guard.
func (h *Holder) OnChange(fn func(*permission.Guard)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnReload registers fn to observe every reload attempt.
func (h *Holder) OnReload(fn func(at time.Time, err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReload = append(h.onReload, fn)
}

// Reload re-reads the permission file.
func (h *Holder) Reload() error {
	guard, err := LoadPermissions(h.path)

	h.mu.Lock()
	if err == nil {
		h.guard = guard
	}
	changeFns := append([]func(*permission.Guard){}, h.onChange...)
	reloadFns := append([]func(time.Time, error){}, h.onReload...)
	h.mu.Unlock()

	now := time.Now()
	for _, fn := range reloadFns {
		fn(now, err)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("permission reload failed, keeping previous table")
		return fmt.Errorf("reload permissions: %w", err)
	}
	h.logger.Info().Str("path", h.path).Strs("modules", guard.Modules()).Msg("permissions reloaded")
	for _, fn := range changeFns {
		fn(guard)
	}
	return nil
}

// Watch reloads on writes to the permission file and on SIGHUP until ctx is
// done. It returns once the watcher is installed; Wait blocks until the
// watch goroutine has exited.
func (h *Holder) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors often save by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	done := make(chan struct{})
	h.mu.Lock()
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		defer watcher.Close()
		defer signal.Stop(sigCh)
		h.watchLoop(ctx, watcher, sigCh)
	}()

	h.logger.Info().Str("path", h.path).Msg("watching permission file")
	return nil
}

// Wait blocks until a started Watch has stopped.
func (h *Holder) Wait() {
	h.mu.RLock()
	done := h.done
	h.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, sigCh <-chan os.Signal) {
	filename := filepath.Base(h.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			h.logger.Info().Msg("received SIGHUP, reloading permissions")
			_ = h.Reload()
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("permission file changed")
			_ = h.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("permission watcher error")
		}
	}
}
