package ceremony

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Registry tracks the completion status of every participant of one cohort.
type Registry struct {
	mu           sync.RWMutex
	cohort       interfaces.Cohort
	participants []interfaces.Participant // indexed by roster position
	index        map[interfaces.ParticipantID]int
}

// NewRegistry creates a roster of len(payloads) participants with ids
// 0..len(payloads)-1, all Incomplete. Payloads are copied.
func NewRegistry(cohort interfaces.Cohort, payloads [][]byte) *Registry {
	r := &Registry{
		cohort:       cohort,
		participants: make([]interfaces.Participant, len(payloads)),
		index:        make(map[interfaces.ParticipantID]int, len(payloads)),
	}

	for i, payload := range payloads {
		id := interfaces.ParticipantIDFromIndex(i)
		r.participants[i] = interfaces.Participant{
			ID:      id,
			Cohort:  cohort,
			Payload: bytes.Clone(payload),
			Status:  interfaces.Incomplete,
		}
		r.index[id] = i
	}

	return r
}

// NewRegistryFromKeys builds a roster from key material keyed by participant
// id. The key set must be exactly 0..len(keys)-1.
func NewRegistryFromKeys(cohort interfaces.Cohort, keys map[interfaces.ParticipantID][]byte) (*Registry, error) {
	payloads := make([][]byte, len(keys))
	for id, key := range keys {
		i, err := id.Index()
		if err != nil {
			return nil, err
		}
		if i >= len(keys) {
			return nil, fmt.Errorf("participant id %s out of range for %d participants", id, len(keys))
		}
		payloads[i] = key
	}
	return NewRegistry(cohort, payloads), nil
}

// Cohort returns the cohort this registry belongs to.
func (r *Registry) Cohort() interfaces.Cohort {
	return r.cohort
}

// Claim marks the participant Complete and returns a copy of the updated
// entry. Claiming an already complete participant changes nothing.
func (r *Registry) Claim(id interfaces.ParticipantID) (interfaces.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, found := r.index[id]
	if !found {
		return interfaces.Participant{}, fmt.Errorf("%w: %s %q", interfaces.ErrUnknownParticipant, r.cohort, id)
	}

	r.participants[i].Status = interfaces.Complete
	return copyParticipant(r.participants[i]), nil
}

// Get returns a copy of the participant.
func (r *Registry) Get(id interfaces.ParticipantID) (interfaces.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, found := r.index[id]
	if !found {
		return interfaces.Participant{}, fmt.Errorf("%w: %s %q", interfaces.ErrUnknownParticipant, r.cohort, id)
	}
	return copyParticipant(r.participants[i]), nil
}

// IsFullyComplete reports whether every participant is Complete. An empty
// registry is complete.
func (r *Registry) IsFullyComplete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants {
		if p.Status != interfaces.Complete {
			return false
		}
	}
	return true
}

// NextIncomplete returns the lowest id that is still Incomplete.
func (r *Registry) NextIncomplete() (interfaces.ParticipantID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.participants {
		if p.Status != interfaces.Complete {
			return p.ID, true
		}
	}
	return "", false
}

// Participants returns copies of all entries in ascending id order.
func (r *Registry) Participants() []interfaces.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]interfaces.Participant, len(r.participants))
	for i, p := range r.participants {
		res[i] = copyParticipant(p)
	}
	return res
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// CompletedCount returns how many participants have received their payload.
func (r *Registry) CompletedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, p := range r.participants {
		if p.Status == interfaces.Complete {
			n++
		}
	}
	return n
}

func copyParticipant(p interfaces.Participant) interfaces.Participant {
	p.Payload = bytes.Clone(p.Payload)
	return p
}
