// Package appstate holds the console-wide election state that outlives a
// single ceremony session: the election draft, the artifacts published by
// ceremony creation and the ElectionGuard status.
package appstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// ElectionGuardStatus tracks whether the key ceremony is finished.
type ElectionGuardStatus string

const (
	StatusKeyCeremony ElectionGuardStatus = "KeyCeremony"
	StatusReady       ElectionGuardStatus = "Ready"
)

var (
	// ErrInvalidElection is returned for election documents that are not JSON.
	ErrInvalidElection = errors.New("election is not valid JSON")

	// ErrNoElection is returned when the ceremony needs an election draft and none is loaded.
	ErrNoElection = errors.New("no election loaded")
)

// State implements interfaces.ApplicationState on top of a KVStore. The
// election and the ElectionGuard configuration are persisted; the election
// map and the status are kept in memory.
type State struct {
	mu    sync.RWMutex
	log   *slog.Logger
	store interfaces.KVStore

	election       interfaces.ElectionDraft
	electionMap    interfaces.ElectionMap
	config         interfaces.ElectionGuardConfig
	existingConfig interfaces.ElectionGuardConfig
	status         ElectionGuardStatus
}

// Snapshot is a copy of the state for status reporting.
type Snapshot struct {
	Status                      ElectionGuardStatus `json:"electionGuardStatus"`
	Election                    json.RawMessage     `json:"election,omitempty"`
	ElectionMap                 json.RawMessage     `json:"electionMap,omitempty"`
	ElectionGuardConfig         json.RawMessage     `json:"electionGuardConfig,omitempty"`
	ExistingElectionGuardConfig json.RawMessage     `json:"existingElectionGuardConfig,omitempty"`
}

func NewState(log *slog.Logger, store interfaces.KVStore) *State {
	return &State{
		log:    log,
		store:  store,
		status: StatusKeyCeremony,
	}
}

// Load restores the persisted election. A configuration left by an earlier
// ceremony is exposed as the existing configuration, not the current one.
func (s *State) Load(ctx context.Context) error {
	election, err := s.store.Get(ctx, interfaces.ElectionKey)
	if err != nil && !errors.Is(err, interfaces.ErrKeyNotFound) {
		return fmt.Errorf("could not load election: %w", err)
	}
	config, cfgErr := s.store.Get(ctx, interfaces.ElectionGuardConfigKey)
	if cfgErr != nil && !errors.Is(cfgErr, interfaces.ErrKeyNotFound) {
		return fmt.Errorf("could not load ElectionGuard config: %w", cfgErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.election = election
	}
	if cfgErr == nil {
		s.existingConfig = config
	}
	s.log.Info("Application state loaded",
		"hasElection", s.election != nil,
		"hasExistingConfig", s.existingConfig != nil,
		"store", s.store.Name())
	return nil
}

// SetElection validates and persists the election draft.
func (s *State) SetElection(ctx context.Context, election interfaces.ElectionDraft) error {
	if !json.Valid(election) {
		return ErrInvalidElection
	}
	if err := s.store.Put(ctx, interfaces.ElectionKey, election); err != nil {
		return fmt.Errorf("could not persist election: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.election = bytes.Clone(election)
	return nil
}

// Election returns the current election draft, nil when none is loaded.
func (s *State) Election() interfaces.ElectionDraft {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.election)
}

func (s *State) SetElectionMap(ctx context.Context, electionMap interfaces.ElectionMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.electionMap = bytes.Clone(electionMap)
	return nil
}

// SetElectionGuardConfig persists the configuration produced by the ceremony.
func (s *State) SetElectionGuardConfig(ctx context.Context, config interfaces.ElectionGuardConfig) error {
	if err := s.store.Put(ctx, interfaces.ElectionGuardConfigKey, config); err != nil {
		return fmt.Errorf("could not persist ElectionGuard config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = bytes.Clone(config)
	return nil
}

func (s *State) MarkReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return interfaces.ErrElectionNotCreated
	}
	s.status = StatusReady
	s.log.Info("ElectionGuard status changed", "status", string(s.status))
	return nil
}

func (s *State) Status() ElectionGuardStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reset clears the in-memory state and removes the persisted election.
func (s *State) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.election = nil
	s.electionMap = nil
	s.config = nil
	s.existingConfig = nil
	s.status = StatusKeyCeremony
	s.mu.Unlock()

	if err := s.store.Delete(ctx, interfaces.ElectionKey); err != nil {
		return fmt.Errorf("could not remove persisted election: %w", err)
	}
	s.log.Warn("Application state reset")
	return nil
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Status:                      s.status,
		Election:                    rawOrNil(s.election),
		ElectionMap:                 rawOrNil(s.electionMap),
		ElectionGuardConfig:         rawOrNil(s.config),
		ExistingElectionGuardConfig: rawOrNil(s.existingConfig),
	}
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(bytes.Clone(b))
}
