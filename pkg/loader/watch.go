package loader

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period Watch waits for after a change.
const DefaultDebounce = 250 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	// Debounce collapses bursts of file events into one reload. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	// OnError, if set, is called with every failed reload.
	OnError func(error)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Watch rebuilds the pipeline whenever path changes and passes each
// successfully built pipeline to onReload. A failed reload is logged and
// leaves the previous pipeline in place; a reload that finds the file
// missing is skipped.
//
// The directory containing path is watched rather than the file itself so
// that editors which replace the file on save keep triggering reloads.
// Watching stops when ctx is done or the returned Closer is closed.
func (l *Loader) Watch(ctx context.Context, server any, path string, onReload func(*builder.Pipeline), opts WatchOptions) (io.Closer, error) {
	if path == "" {
		path = DefaultScript
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	reload := func() {
		p, ok, err := l.Load(ctx, server, path)
		switch {
		case err != nil:
			l.logger.Error("Script reload failed", zap.String("path", path), zap.Error(err))
			if opts.OnError != nil {
				opts.OnError(err)
			}
		case !ok:
			// Load already logged the read failure.
		default:
			l.logger.Info("Script reloaded", zap.String("path", path))
			onReload(p)
		}
	}

	go func() {
		defer close(doneCh)
		defer watcher.Close()
		timer := time.NewTimer(debounce)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-timer.C:
				reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Script watcher error", zap.Error(err))
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !affects(evt, abs) {
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
		}
	}()

	l.logger.Info("Watching script for changes",
		zap.String("path", path),
		zap.Duration("debounce", debounce),
	)

	var once sync.Once
	return closerFunc(func() error {
		once.Do(func() { close(stopCh) })
		<-doneCh
		return nil
	}), nil
}

// affects reports whether evt changed the watched script.
func affects(evt fsnotify.Event, abs string) bool {
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return false
	}
	name, err := filepath.Abs(evt.Name)
	if err != nil {
		return false
	}
	return name == abs
}
