// Package inbox watches a directory for dropped images and hands each one to
// a handler once the writer has finished with it.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without events before it is handled.
const DefaultSettle = 500 * time.Millisecond

var supportedExtensions = map[string]struct{}{
	".avif": {},
	".bmp":  {},
	".gif":  {},
	".jpeg": {},
	".jpg":  {},
	".png":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// Supported reports whether name has an image extension the converter decodes.
func Supported(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Handler processes one settled file. It runs on its own goroutine.
type Handler func(ctx context.Context, path string)

// Watcher calls a Handler for every image created or rewritten in a directory.
type Watcher struct {
	dir     string
	settle  time.Duration
	handle  Handler
	logger  *slog.Logger
	ignored func(name string) bool

	mu      sync.Mutex
	pending map[string]func(func())
	closed  bool
	wg      sync.WaitGroup
}

// Options configures a Watcher.
type Options struct {
	Settle time.Duration // Quiet period per file (default: DefaultSettle)
	Logger *slog.Logger  // Defaults to slog.Default()
	// Ignore skips names for which it returns true, e.g. files the caller
	// writes into the directory itself.
	Ignore func(name string) bool
}

// New returns a watcher for dir. The directory is created if needed.
func New(dir string, h Handler, opts *Options) (*Watcher, error) {
	if h == nil {
		return nil, errors.New("inbox: nil handler")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("inbox: create dir: %w", err)
	}
	if opts == nil {
		opts = &Options{}
	}
	w := &Watcher{
		dir:     dir,
		settle:  opts.Settle,
		handle:  h,
		logger:  opts.Logger,
		ignored: opts.Ignore,
		pending: make(map[string]func(func())),
	}
	if w.settle <= 0 {
		w.settle = DefaultSettle
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Run watches until ctx is done. Handlers still in flight are waited for
// before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: new watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox", "dir", w.dir, "settle", w.settle)

	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.event(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "err", err)
		}
	}
}

func (w *Watcher) event(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !Supported(name) {
		return
	}
	if w.ignored != nil && w.ignored(name) {
		return
	}

	w.mu.Lock()
	d, ok := w.pending[ev.Name]
	if !ok {
		d = debounce.New(w.settle)
		w.pending[ev.Name] = d
	}
	w.mu.Unlock()

	path := ev.Name
	d(func() { w.fire(ctx, path) })
}

// drain stops new handlers and waits for running ones.
func (w *Watcher) drain() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if w.closed || ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	// Renamed-away files produce events too.
	if _, err := os.Stat(path); err != nil {
		return
	}
	w.logger.Debug("inbox file settled", "path", path)
	w.handle(ctx, path)
}
