package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TriggerFileName is the file other processes touch to ask a running daemon
// for a sync.
const TriggerFileName = "sync.trigger"

// TriggerPath returns the trigger file path inside dataDir.
func TriggerPath(dataDir string) string {
	return filepath.Join(dataDir, TriggerFileName)
}

// Touch writes the current time to the trigger file in dataDir.
func Touch(dataDir string) error {
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(TriggerPath(dataDir), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("failed to touch trigger file: %w", err)
	}
	return nil
}

// TriggerWatcher watches a data directory for writes to the trigger file.
// It uses fsnotify and watches the directory rather than the file so that
// the trigger may be created after the watch starts.
type TriggerWatcher struct {
	watcher *fsnotify.Watcher
	events  chan time.Time
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewTriggerWatcher creates a watcher. It emits nothing until Start.
func NewTriggerWatcher() (*TriggerWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &TriggerWatcher{
		watcher: watcher,
		events:  make(chan time.Time, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (tw *TriggerWatcher) Start(dir string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := tw.watcher.Add(abs); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", abs, err)
	}
	tw.dir = abs

	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents()

	return nil
}

// Stop closes the watcher and waits for the event loop to exit. The event
// channels are closed afterwards. A watcher that was never started only
// releases its fsnotify handle.
func (tw *TriggerWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return tw.watcher.Close()
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.done)

	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	tw.wg.Wait()

	close(tw.events)
	close(tw.errors)

	return nil
}

// Events emits the time of each trigger write.
func (tw *TriggerWatcher) Events() <-chan time.Time {
	return tw.events
}

// Errors emits watcher errors.
func (tw *TriggerWatcher) Errors() <-chan error {
	return tw.errors
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (tw *TriggerWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

func (tw *TriggerWatcher) processEvents() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.done:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if !tw.isTrigger(event) {
				continue
			}

			select {
			case tw.events <- time.Now():
			case <-tw.done:
				return
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case tw.errors <- err:
			case <-tw.done:
				return
			}
		}
	}
}

// isTrigger accepts creates and writes of the trigger file. Removes, renames
// and chmods are ignored.
func (tw *TriggerWatcher) isTrigger(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	if filepath.Base(event.Name) != TriggerFileName {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == tw.dir
}
