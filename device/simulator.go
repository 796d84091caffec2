package device

import (
	"bytes"
	"context"
	"sync"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Simulator is an in-memory DeviceMediator.
type Simulator struct {
	mu       sync.Mutex
	written  map[slot][]byte
	writes   int
	failures []error
}

func NewSimulator() *Simulator {
	return &Simulator{written: make(map[slot][]byte)}
}

// FailNextWrites queues errors returned by the next writes, in order.
func (s *Simulator) FailNextWrites(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *Simulator) Write(ctx context.Context, cohort interfaces.Cohort, id interfaces.ParticipantID, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return err
	}
	s.written[slot{cohort: cohort, id: id}] = bytes.Clone(payload)
	return nil
}

// Written returns the last payload successfully written for the participant.
func (s *Simulator) Written(cohort interfaces.Cohort, id interfaces.ParticipantID) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.written[slot{cohort: cohort, id: id}]
	return bytes.Clone(payload), ok
}

// Writes counts write attempts, failed ones included.
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
