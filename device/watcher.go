package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

type slot struct {
	cohort interfaces.Cohort
	id     interfaces.ParticipantID
}

// Watcher emits Present and Removed events for mounts under a media root.
// A mount that appears while no participant is armed is ignored.
type Watcher struct {
	log  *slog.Logger
	root string
	fsw  *fsnotify.Watcher

	mu     sync.Mutex
	armed  *slot
	mounts map[string]slot

	events chan interfaces.DeviceEvent
}

// NewWatcher starts watching root, which must be an existing directory.
func NewWatcher(log *slog.Logger, root string) (*Watcher, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("media root %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("could not watch %s: %w", root, err)
	}

	return &Watcher{
		log:    log.With("mediaRoot", root),
		root:   root,
		fsw:    fsw,
		mounts: make(map[string]slot),
		events: make(chan interfaces.DeviceEvent, 16),
	}, nil
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan interfaces.DeviceEvent {
	return w.events
}

// Arm attributes the next mount to the participant.
func (w *Watcher) Arm(cohort interfaces.Cohort, id interfaces.ParticipantID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = &slot{cohort: cohort, id: id}
	w.log.Debug("Watcher armed", "cohort", cohort.String(), "id", string(id))
}

func (w *Watcher) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = nil
}

// Mount returns the mount directory currently attributed to the participant.
func (w *Watcher) Mount(cohort interfaces.Cohort, id interfaces.ParticipantID) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, s := range w.mounts {
		if s.cohort == cohort && s.id == id {
			return path, true
		}
	}
	return "", false
}

// Run processes filesystem notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if out, ok := w.translate(ev); ok {
				select {
				case w.events <- out:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.log.Warn("fsnotify event overflow, device events may be lost")
				continue
			}
			w.log.Error("fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) (interfaces.DeviceEvent, bool) {
	path := filepath.Clean(ev.Name)
	if filepath.Dir(path) != filepath.Clean(w.root) {
		return interfaces.DeviceEvent{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return interfaces.DeviceEvent{}, false
		}
		if w.armed == nil {
			w.log.Warn("Device inserted while no participant is expected", "mount", path)
			return interfaces.DeviceEvent{}, false
		}
		s := *w.armed
		w.mounts[path] = s
		w.log.Info("Device present", "mount", path, "cohort", s.cohort.String(), "id", string(s.id))
		return interfaces.DeviceEvent{Kind: interfaces.DevicePresent, Cohort: s.cohort, ID: s.id}, true

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		s, ok := w.mounts[path]
		if !ok {
			return interfaces.DeviceEvent{}, false
		}
		delete(w.mounts, path)
		w.log.Info("Device removed", "mount", path, "cohort", s.cohort.String(), "id", string(s.id))
		return interfaces.DeviceEvent{Kind: interfaces.DeviceRemoved, Cohort: s.cohort, ID: s.id}, true
	}

	return interfaces.DeviceEvent{}, false
}
