package fanout

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/relaydebate/internal/logging"
)

const defaultDebounce = 50 * time.Millisecond

// Resyncer re-reads the given debates and delivers anything this process
// has not seen yet.
type Resyncer interface {
	Resync(ctx context.Context, debateIDs []string)
}

// TargetsFunc lists the debates somebody in this process is waiting on.
type TargetsFunc func() []string

// Watcher notices writes to a SQLite database file made by other processes
// and triggers a resync of the debates this process is following.
type Watcher struct {
	dir      string
	base     string
	debounce time.Duration
	resync   Resyncer
	targets  TargetsFunc
	log      *logging.Logger
}

func NewWatcher(dbPath string, resync Resyncer, targets TargetsFunc, log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.Nop()
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		abs = dbPath
	}
	return &Watcher{
		dir:      filepath.Dir(abs),
		base:     filepath.Base(abs),
		debounce: defaultDebounce,
		resync:   resync,
		targets:  targets,
		log:      log.With("component", "store_watcher"),
	}
}

// Run blocks until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.log.Info("watching store for external writes", "dir", w.dir, "file", w.base)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("store watcher error", "error", err)
		case <-timer.C:
			pending = false
			w.fire(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(event.Name)
	return name == w.base || strings.HasPrefix(name, w.base+"-")
}

func (w *Watcher) fire(ctx context.Context) {
	ids := w.targets()
	if len(ids) == 0 {
		return
	}
	w.log.Debug("store changed; resyncing", "debates", len(ids))
	w.resync.Resync(ctx, ids)
}
