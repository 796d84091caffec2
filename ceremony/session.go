package ceremony

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ruteri/election-ceremony-console/interfaces"
	"go.uber.org/atomic"
)

// Session owns the parameters and registries of one key ceremony.
type Session struct {
	mu         sync.RWMutex
	id         uuid.UUID
	log        *slog.Logger
	service    interfaces.CeremonyCreationService
	appState   interfaces.ApplicationState
	params     interfaces.CeremonyParameters
	configured bool
	draft      interfaces.ElectionDraft
	config     interfaces.ElectionGuardConfig // nil until CreateElection succeeds
	trustees   *Registry
	encrypters *Registry
	discarded  bool

	creating atomic.Bool
}

// Snapshot is a point-in-time copy of the session for status reporting.
type Snapshot struct {
	ID              string                        `json:"id"`
	Configured      bool                          `json:"configured"`
	ElectionCreated bool                          `json:"electionCreated"`
	Parameters      interfaces.CeremonyParameters `json:"parameters"`
	Trustees        []interfaces.Participant      `json:"trustees"`
	Encrypters      []interfaces.Participant      `json:"encrypters"`
}

// NewSession creates an unconfigured session with empty registries.
func NewSession(log *slog.Logger, service interfaces.CeremonyCreationService, appState interfaces.ApplicationState) *Session {
	id := uuid.New()
	return &Session{
		id:         id,
		log:        log.With("ceremonySession", id.String()),
		service:    service,
		appState:   appState,
		trustees:   NewRegistry(interfaces.TrusteeCohort, nil),
		encrypters: NewRegistry(interfaces.EncrypterCohort, nil),
	}
}

// ID returns the session identifier used in logs and status reports.
func (s *Session) ID() string {
	return s.id.String()
}

// Discard marks the session as abandoned. A creation call still in flight
// will not publish its outputs or seed the registries.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = true
}

// Configure validates and stores the ceremony parameters. Registries are not
// populated until CreateElection succeeds.
func (s *Session) Configure(numberOfTrustees, threshold, numberOfEncrypters int) error {
	params := interfaces.CeremonyParameters{
		NumberOfTrustees:   numberOfTrustees,
		Threshold:          threshold,
		NumberOfEncrypters: numberOfEncrypters,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		return fmt.Errorf("%w: parameters are fixed once the election is created", interfaces.ErrElectionAlreadyCreated)
	}

	s.params = params
	s.configured = true
	s.log.Info("Ceremony configured",
		"numberOfTrustees", numberOfTrustees,
		"threshold", threshold,
		"numberOfEncrypters", numberOfEncrypters)
	return nil
}

// CreateElection calls the creation service once with the draft and the
// configured parameters, then seeds both registries and publishes the outputs
// to the application state. On any failure the session is unchanged.
func (s *Session) CreateElection(ctx context.Context, draft interfaces.ElectionDraft) (*interfaces.CreationResponse, error) {
	if !s.creating.CompareAndSwap(false, true) {
		return nil, interfaces.ErrCeremonyCreationInProgress
	}
	defer s.creating.Store(false)

	s.mu.RLock()
	params := s.params
	configured := s.configured
	created := s.config != nil
	s.mu.RUnlock()

	if created {
		return nil, interfaces.ErrElectionAlreadyCreated
	}
	if !configured {
		return nil, fmt.Errorf("%w: ceremony not configured", interfaces.ErrInvalidCeremonyParameters)
	}

	s.log.Info("Creating election", "numberOfTrustees", params.NumberOfTrustees, "threshold", params.Threshold)

	resp, err := s.service.CreateElection(ctx, draft, params)
	if err != nil {
		s.log.Error("Ceremony creation service failed", "err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCeremonyCreationFailed, err)
	}

	trustees, err := trusteeRegistryFromResponse(resp, params)
	if err != nil {
		s.log.Error("Malformed ceremony creation response", "err", err)
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCeremonyCreationFailed, err)
	}

	encrypters, err := buildEncrypterRegistry(draft, resp.ElectionGuardConfig, params.NumberOfEncrypters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrCeremonyCreationFailed, err)
	}

	// Publishing and committing happen under the write lock so that Discard
	// either precedes both or follows both.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discarded {
		s.log.Warn("Dropping election created for a discarded session")
		return nil, fmt.Errorf("%w: session was discarded while the election was being created", interfaces.ErrCeremonyCreationFailed)
	}

	// The configuration is persisted and may fail, so it goes first.
	if err := s.appState.SetElectionGuardConfig(ctx, resp.ElectionGuardConfig); err != nil {
		return nil, fmt.Errorf("%w: could not publish ElectionGuard config: %w", interfaces.ErrCeremonyCreationFailed, err)
	}
	if err := s.appState.SetElectionMap(ctx, resp.ElectionMap); err != nil {
		return nil, fmt.Errorf("%w: could not publish election map: %w", interfaces.ErrCeremonyCreationFailed, err)
	}

	s.draft = bytes.Clone(draft)
	s.config = bytes.Clone(resp.ElectionGuardConfig)
	s.trustees = trustees
	s.encrypters = encrypters

	s.log.Info("Election created", "trustees", trustees.Len(), "encrypters", encrypters.Len())
	return resp, nil
}

func trusteeRegistryFromResponse(resp *interfaces.CreationResponse, params interfaces.CeremonyParameters) (*Registry, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty response")
	}
	if len(resp.ElectionGuardConfig) == 0 {
		return nil, fmt.Errorf("response carries no ElectionGuard config")
	}
	if len(resp.TrusteeKeys) != params.NumberOfTrustees {
		return nil, fmt.Errorf("expected key material for %d trustees, got %d", params.NumberOfTrustees, len(resp.TrusteeKeys))
	}
	for id, key := range resp.TrusteeKeys {
		if len(key) == 0 {
			return nil, fmt.Errorf("empty key material for trustee %s", id)
		}
	}
	return NewRegistryFromKeys(interfaces.TrusteeCohort, resp.TrusteeKeys)
}

func buildEncrypterRegistry(draft interfaces.ElectionDraft, config interfaces.ElectionGuardConfig, n int) (*Registry, error) {
	payloads := make([][]byte, n)
	for i := range payloads {
		artifact, err := BuildEncrypterArtifact(interfaces.ParticipantIDFromIndex(i), draft, config)
		if err != nil {
			return nil, err
		}
		payloads[i] = artifact
	}
	return NewRegistry(interfaces.EncrypterCohort, payloads), nil
}

// SetEncrypterCount replaces the encrypter roster with n Incomplete entries.
// It is only allowed after the election is created and before any drive has
// been claimed.
func (s *Session) SetEncrypterCount(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: number of encrypters must not be negative, got %d", interfaces.ErrInvalidCeremonyParameters, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return interfaces.ErrElectionNotCreated
	}
	if s.encrypters.CompletedCount() > 0 {
		return interfaces.ErrEncrypterDistributionStarted
	}

	encrypters, err := buildEncrypterRegistry(s.draft, s.config, n)
	if err != nil {
		return err
	}

	s.encrypters = encrypters
	s.params.NumberOfEncrypters = n
	s.log.Info("Encrypter roster set", "numberOfEncrypters", n)
	return nil
}

// ClaimTrusteeKey marks the trustee's smartcard as written.
func (s *Session) ClaimTrusteeKey(id interfaces.ParticipantID) (interfaces.Participant, error) {
	return s.Claim(interfaces.TrusteeCohort, id)
}

// ClaimEncrypterDrive marks the encrypter's drive as written.
func (s *Session) ClaimEncrypterDrive(id interfaces.ParticipantID) (interfaces.Participant, error) {
	return s.Claim(interfaces.EncrypterCohort, id)
}

// Claim delegates to the registry of the given cohort.
func (s *Session) Claim(cohort interfaces.Cohort, id interfaces.ParticipantID) (interfaces.Participant, error) {
	registry := s.Registry(cohort)
	p, err := registry.Claim(id)
	if err != nil {
		s.log.Error("Claim for unknown participant", "cohort", cohort.String(), "id", string(id), "err", err)
		return p, err
	}
	s.log.Info("Participant claimed", "cohort", cohort.String(), "id", string(id))
	return p, nil
}

// Registry returns the current registry of the cohort.
func (s *Session) Registry(cohort interfaces.Cohort) *Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cohort == interfaces.EncrypterCohort {
		return s.encrypters
	}
	return s.trustees
}

// Trustees returns the trustee registry.
func (s *Session) Trustees() *Registry {
	return s.Registry(interfaces.TrusteeCohort)
}

// Encrypters returns the encrypter registry.
func (s *Session) Encrypters() *Registry {
	return s.Registry(interfaces.EncrypterCohort)
}

// IsReady reports whether the election exists and both registries are complete.
func (s *Session) IsReady() bool {
	s.mu.RLock()
	created := s.config != nil
	trustees, encrypters := s.trustees, s.encrypters
	s.mu.RUnlock()

	return created && trustees.IsFullyComplete() && encrypters.IsFullyComplete()
}

// ElectionCreated reports whether CreateElection has succeeded.
func (s *Session) ElectionCreated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config != nil
}

// Parameters returns the configured ceremony parameters.
func (s *Session) Parameters() interfaces.CeremonyParameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// ElectionGuardConfig returns a copy of the configuration, nil before creation.
func (s *Session) ElectionGuardConfig() interfaces.ElectionGuardConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return bytes.Clone(s.config)
}

// Snapshot returns a copy of the session state for status reporting.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:              s.id.String(),
		Configured:      s.configured,
		ElectionCreated: s.config != nil,
		Parameters:      s.params,
		Trustees:        s.trustees.Participants(),
		Encrypters:      s.encrypters.Participants(),
	}
}
