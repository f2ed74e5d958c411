package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the policy directory and rebuilds the registry whenever a
// loadable file changes. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the policy directory. Every relevant change
// rebuilds the registry from builtins plus the directory contents and hands
// the fresh snapshot to onSwap; in-flight requests keep the snapshot they
// started with. Changes are debounced so editors that write in bursts trigger
// one rebuild.
func (l *Loader) Watch(ctx context.Context, dir string, builtins []Module, onSwap func(*Registry), onError func(error)) (*Watcher, error) {
	if onSwap == nil {
		return nil, fmt.Errorf("policy: watch requires a swap callback")
	}
	if dir == "" {
		return nil, fmt.Errorf("policy: no directory configured for watching")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("policy: watch: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("policy: watch add %s: %w", dir, err)
	}

	done := make(chan struct{})
	watch := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("policy: watch close: %w", err))
			}
		}()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				onSwap(l.Load(dir, builtins))
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isLoadableFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
					continue
				}
				scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("policy: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}

// isLoadableFile reports whether a path has a registered loadable suffix and
// is not a dunder-prefixed scratch file.
func isLoadableFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "__") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".cel", ".so":
		return true
	}
	return false
}
