package capture

import (
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/angelstreet/virtualpytest-sub004/logging"
)

// Event announces a new full capture.
type Event struct {
	DeviceID string    `json:"device_id"`
	Path     string    `json:"path"`
	Sequence int       `json:"sequence"`
	Time     time.Time `json:"time"`
}

// Watcher reports new captures written into a store's captures directory.
type Watcher struct {
	store    *Store
	deviceID string
	events   chan Event
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	mu       sync.Mutex
}

// NewWatcher creates a watcher for store. Events carry deviceID.
func NewWatcher(store *Store, deviceID string) *Watcher {
	return &Watcher{
		store:    store,
		deviceID: deviceID,
		events:   make(chan Event, 16),
	}
}

// Events delivers capture events. Slow readers miss events rather than
// blocking the watcher.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start begins watching the captures directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := w.store.CapturesDir()
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})

	logging.Info("capture").Str("device", w.deviceID).Str("path", dir).Msg("Started watching captures")

	go w.watch(watcher, w.stopCh)
	return nil
}

// Stop stops watching. The watcher can be started again.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		logging.Info("capture").Str("device", w.deviceID).Msg("Stopped watching captures")
	}
}

// Running reports whether the watcher is started.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watcher != nil
}

func (w *Watcher) watch(watcher *fsnotify.Watcher, stopCh chan struct{}) {
	lastSeq := -1
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// The capture process writes to a temp name and renames, or
			// creates in place; both surface as Create on the final name.
			if event.Op&fsnotify.Create != fsnotify.Create && event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			m := captureRe.FindStringSubmatch(filepath.Base(event.Name))
			if m == nil {
				continue
			}
			seq, _ := strconv.Atoi(m[1])
			if seq == lastSeq {
				continue
			}
			lastSeq = seq
			ev := Event{DeviceID: w.deviceID, Path: event.Name, Sequence: seq, Time: time.Now()}

			select {
			case w.events <- ev:
			default:
				logging.Debug("capture").Str("device", w.deviceID).Int("sequence", seq).Msg("Capture event dropped")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("capture").Err(err).Msg("Watcher error")
		}
	}
}
