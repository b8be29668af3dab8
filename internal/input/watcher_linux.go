package input

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// hotplugSettle is how long a new device node is left alone before opening
// it; udev applies ownership and mode after the node is created.
var hotplugSettle = 250 * time.Millisecond

// hotplugWatcher reports device nodes created in the directories of the
// configured patterns.
type hotplugWatcher struct {
	fsw      *fsnotify.Watcher
	patterns []string
	onAdd    func(path string)
	closeCh  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func newHotplugWatcher(patterns []string, onAdd func(path string)) (*hotplugWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, pattern := range patterns {
		dir := filepath.Dir(pattern)
		if !slices.Contains(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w := &hotplugWatcher{
		fsw:      fsw,
		patterns: patterns,
		onAdd:    onAdd,
		closeCh:  make(chan struct{}),
	}
	w.wg.Go(w.loop)
	slog.Debug("[DEBUG-INPUT] hotplug watch started", "dirs", dirs)
	return w, nil
}

func (w *hotplugWatcher) matches(path string) bool {
	for _, pattern := range w.patterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (w *hotplugWatcher) loop() {
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) || !w.matches(ev.Name) {
				continue
			}
			timer := time.NewTimer(hotplugSettle)
			select {
			case <-w.closeCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			slog.Info("[DEBUG-INPUT] input device added", "path", ev.Name)
			w.onAdd(ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[DEBUG-INPUT] hotplug watch error", "error", err)
		}
	}
}

func (w *hotplugWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
