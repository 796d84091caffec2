package device

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// MountLookup resolves the mount directory of the device attributed to a
// participant. *Watcher implements it.
type MountLookup interface {
	Mount(cohort interfaces.Cohort, id interfaces.ParticipantID) (string, bool)
}

// DirectoryMediator writes payloads as <mount>/<cohort>-<id>.json.
type DirectoryMediator struct {
	log    *slog.Logger
	mounts MountLookup
}

func NewDirectoryMediator(log *slog.Logger, mounts MountLookup) *DirectoryMediator {
	return &DirectoryMediator{log: log, mounts: mounts}
}

// PayloadFileName is the name of the file written onto a participant's device.
func PayloadFileName(cohort interfaces.Cohort, id interfaces.ParticipantID) string {
	return fmt.Sprintf("%s-%s.json", cohort.String(), string(id))
}

// Write implements interfaces.DeviceMediator. The payload is written to a
// temporary file, synced, renamed into place and read back; a digest mismatch
// is reported as a failed write.
func (m *DirectoryMediator) Write(ctx context.Context, cohort interfaces.Cohort, id interfaces.ParticipantID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mount, ok := m.mounts.Mount(cohort, id)
	if !ok {
		return fmt.Errorf("no device mounted for %s %s", cohort, id)
	}

	target := filepath.Join(mount, PayloadFileName(cohort, id))
	tmp, err := os.CreateTemp(mount, ".write-*")
	if err != nil {
		return fmt.Errorf("could not create file on device: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write to device: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("could not sync device: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close file on device: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("could not move payload into place: %w", err)
	}

	written, err := os.ReadFile(target)
	if err != nil {
		return fmt.Errorf("could not read back payload: %w", err)
	}
	want := sha256.Sum256(payload)
	got := sha256.Sum256(written)
	if !bytes.Equal(want[:], got[:]) {
		return fmt.Errorf("payload verification failed for %s", target)
	}

	m.log.Info("Payload written", "path", target, "bytes", len(payload))
	return nil
}
