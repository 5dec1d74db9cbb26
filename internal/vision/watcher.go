package vision

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WeightsWatcher reloads the shared model when the weights file changes
// on disk. It watches the parent directory so weights dropped in after
// startup are picked up too, and keeps a slow polling net underneath in
// case filesystem events are lost.
type WeightsWatcher struct {
	path     string
	model    *SharedModel
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWeightsWatcher creates a watcher for the given weights path.
func NewWeightsWatcher(path string, model *SharedModel) (*WeightsWatcher, error) {
	return &WeightsWatcher{
		path:   path,
		model:  model,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins watching. Returns an error if the filesystem watcher
// cannot be created or the weights directory cannot be watched.
func (w *WeightsWatcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	go w.watchLoop()
	go w.pollLoop()

	log.Printf("[WeightsWatcher] watching %s", w.path)
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (w *WeightsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsw != nil {
			w.fsw.Close()
		}
	})
}

func (w *WeightsWatcher) watchLoop() {
	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Small delay so we read the file after the writer finishes.
			time.Sleep(100 * time.Millisecond)
			if err := w.model.Reload(); err != nil {
				log.Printf("[WeightsWatcher] reload after %s: %v", event.Op, err)
			} else {
				log.Printf("[WeightsWatcher] weights reloaded after %s", event.Op)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[WeightsWatcher] [ERROR] watch error: %v", err)
		case <-w.stopCh:
			return
		}
	}
}

// pollLoop is a safety net for missed filesystem events.
func (w *WeightsWatcher) pollLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			wasLoaded := w.model.Loaded()
			if err := w.model.Reload(); err == nil && !wasLoaded {
				log.Printf("[WeightsWatcher] weights appeared during poll")
			}
		case <-w.stopCh:
			return
		}
	}
}
