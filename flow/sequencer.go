package flow

import (
	"fmt"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Phase of the device sequence of one cohort.
type Phase int

const (
	// PhaseIdle: no device is attributed to a participant.
	PhaseIdle Phase = iota
	// PhaseInserted: a device is present but its write is not confirmed.
	PhaseInserted
	// PhaseAwaitingRemoval: the participant is claimed; the device must be removed.
	PhaseAwaitingRemoval
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInserted:
		return "inserted"
	case PhaseAwaitingRemoval:
		return "awaitingRemoval"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseIdle; candidate <= PhaseAwaitingRemoval; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(text))
}

// Sequencer tracks the insert, write, claim, remove sequence of one cohort.
// It is not safe for concurrent use; the Controller guards it.
type Sequencer struct {
	cohort interfaces.Cohort
	phase  Phase
	active interfaces.ParticipantID
}

func NewSequencer(cohort interfaces.Cohort) *Sequencer {
	return &Sequencer{cohort: cohort}
}

func (s *Sequencer) Phase() Phase {
	return s.phase
}

// Active returns the participant of the open sequence.
func (s *Sequencer) Active() (interfaces.ParticipantID, bool) {
	if s.phase == PhaseIdle {
		return "", false
	}
	return s.active, true
}

// Present opens a sequence for id. A repeated present for the active id is
// accepted and leaves the phase unchanged.
func (s *Sequencer) Present(id interfaces.ParticipantID) error {
	switch {
	case s.phase == PhaseIdle:
		s.phase = PhaseInserted
		s.active = id
		return nil
	case s.active == id:
		return nil
	default:
		return fmt.Errorf("%w: %s %s inserted while %s %s is %s", interfaces.ErrDeviceSequenceViolation, s.cohort, id, s.cohort, s.active, s.phase)
	}
}

// Written moves the open sequence to PhaseAwaitingRemoval.
func (s *Sequencer) Written() error {
	if s.phase != PhaseInserted {
		return fmt.Errorf("%w: no %s device awaiting a write", interfaces.ErrDeviceSequenceViolation, s.cohort)
	}
	s.phase = PhaseAwaitingRemoval
	return nil
}

// Removed closes the sequence of id. It reports whether the participant had
// been claimed; a removal before the write was confirmed aborts the sequence.
func (s *Sequencer) Removed(id interfaces.ParticipantID) (bool, error) {
	if s.phase == PhaseIdle || s.active != id {
		return false, fmt.Errorf("%w: removal of %s %s which is not the active device", interfaces.ErrDeviceSequenceViolation, s.cohort, id)
	}
	claimed := s.phase == PhaseAwaitingRemoval
	s.phase = PhaseIdle
	s.active = ""
	return claimed, nil
}

func (s *Sequencer) Reset() {
	s.phase = PhaseIdle
	s.active = ""
}
