package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticMounts map[slot]string

func (m staticMounts) Mount(cohort interfaces.Cohort, id interfaces.ParticipantID) (string, bool) {
	path, ok := m[slot{cohort: cohort, id: id}]
	return path, ok
}

func TestDirectoryMediator_Write(t *testing.T) {
	mount := t.TempDir()
	mediator := NewDirectoryMediator(testLogger(), staticMounts{
		{cohort: interfaces.TrusteeCohort, id: "1"}: mount,
	})

	payload := []byte(`{"share":"abc"}`)
	require.NoError(t, mediator.Write(context.Background(), interfaces.TrusteeCohort, "1", payload))

	written, err := os.ReadFile(filepath.Join(mount, "trustee-1.json"))
	require.NoError(t, err)
	assert.Equal(t, payload, written)

	entries, err := os.ReadDir(mount)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be cleaned up")

	err = mediator.Write(context.Background(), interfaces.TrusteeCohort, "2", payload)
	assert.Error(t, err, "no device mounted for trustee 2")
}

func TestDirectoryMediator_MissingMount(t *testing.T) {
	mediator := NewDirectoryMediator(testLogger(), staticMounts{
		{cohort: interfaces.EncrypterCohort, id: "0"}: filepath.Join(t.TempDir(), "gone"),
	})
	err := mediator.Write(context.Background(), interfaces.EncrypterCohort, "0", []byte("x"))
	assert.Error(t, err)
}

func TestSimulator(t *testing.T) {
	sim := NewSimulator()
	boom := errors.New("card not responding")
	sim.FailNextWrites(boom)

	err := sim.Write(context.Background(), interfaces.TrusteeCohort, "0", []byte("a"))
	assert.ErrorIs(t, err, boom)
	_, ok := sim.Written(interfaces.TrusteeCohort, "0")
	assert.False(t, ok)

	require.NoError(t, sim.Write(context.Background(), interfaces.TrusteeCohort, "0", []byte("a")))
	payload, ok := sim.Written(interfaces.TrusteeCohort, "0")
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), payload)
	assert.Equal(t, 2, sim.Writes())
}

func nextEvent(t *testing.T, events <-chan interfaces.DeviceEvent) interfaces.DeviceEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for device event")
		return interfaces.DeviceEvent{}
	}
}

func TestWatcher_PresentAndRemoved(t *testing.T) {
	root := t.TempDir()
	watcher, err := NewWatcher(testLogger(), root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	watcher.Arm(interfaces.EncrypterCohort, "3")
	mount := filepath.Join(root, "usb0")
	require.NoError(t, os.Mkdir(mount, 0o755))

	ev := nextEvent(t, watcher.Events())
	assert.Equal(t, interfaces.DeviceEvent{Kind: interfaces.DevicePresent, Cohort: interfaces.EncrypterCohort, ID: "3"}, ev)

	path, ok := watcher.Mount(interfaces.EncrypterCohort, "3")
	require.True(t, ok)
	assert.Equal(t, mount, path)

	mediator := NewDirectoryMediator(testLogger(), watcher)
	require.NoError(t, mediator.Write(ctx, interfaces.EncrypterCohort, "3", []byte(`{}`)))

	watcher.Disarm()
	require.NoError(t, os.RemoveAll(mount))

	ev = nextEvent(t, watcher.Events())
	assert.Equal(t, interfaces.DeviceEvent{Kind: interfaces.DeviceRemoved, Cohort: interfaces.EncrypterCohort, ID: "3"}, ev)

	_, ok = watcher.Mount(interfaces.EncrypterCohort, "3")
	assert.False(t, ok)
}

func TestWatcher_IgnoresUnarmedInsert(t *testing.T) {
	root := t.TempDir()
	watcher, err := NewWatcher(testLogger(), root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	require.NoError(t, os.Mkdir(filepath.Join(root, "stray"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("x"), 0o644))

	watcher.Arm(interfaces.TrusteeCohort, "0")
	require.NoError(t, os.Mkdir(filepath.Join(root, "card"), 0o755))

	ev := nextEvent(t, watcher.Events())
	assert.Equal(t, interfaces.TrusteeCohort, ev.Cohort)
	assert.Equal(t, interfaces.ParticipantID("0"), ev.ID)
	assert.Equal(t, interfaces.DevicePresent, ev.Kind)
}

func TestNewWatcher_RequiresDirectory(t *testing.T) {
	_, err := NewWatcher(testLogger(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewWatcher(testLogger(), file)
	assert.Error(t, err)
}
