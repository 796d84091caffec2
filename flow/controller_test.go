package flow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/election-ceremony-console/appstate"
	"github.com/ruteri/election-ceremony-console/device"
	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/ruteri/election-ceremony-console/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	started chan struct{}
	release chan struct{}
}

func (s *fakeService) CreateElection(ctx context.Context, draft interfaces.ElectionDraft, params interfaces.CeremonyParameters) (*interfaces.CreationResponse, error) {
	s.mu.Lock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	started, release := s.started, s.release
	s.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if err != nil {
		return nil, err
	}

	keys := make(map[interfaces.ParticipantID][]byte, params.NumberOfTrustees)
	for i := 0; i < params.NumberOfTrustees; i++ {
		keys[interfaces.ParticipantIDFromIndex(i)] = []byte{'k', byte('0' + i)}
	}
	return &interfaces.CreationResponse{
		ElectionGuardConfig: interfaces.ElectionGuardConfig(`{"threshold":1}`),
		ElectionMap:         interfaces.ElectionMap(`{}`),
		TrusteeKeys:         keys,
	}, nil
}

type fakeAppState struct {
	mu           sync.Mutex
	maps         int
	configs      int
	ready        int
	markReadyErr error
}

func (a *fakeAppState) SetElectionMap(ctx context.Context, m interfaces.ElectionMap) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maps++
	return nil
}

func (a *fakeAppState) SetElectionGuardConfig(ctx context.Context, c interfaces.ElectionGuardConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.configs++
	return nil
}

func (a *fakeAppState) MarkReady(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.markReadyErr != nil {
		err := a.markReadyErr
		a.markReadyErr = nil
		return err
	}
	a.ready++
	return nil
}

type fakeArmer struct {
	armed  *interfaces.DeviceEvent
	disarm int
}

func (a *fakeArmer) Arm(cohort interfaces.Cohort, id interfaces.ParticipantID) {
	a.armed = &interfaces.DeviceEvent{Cohort: cohort, ID: id}
}

func (a *fakeArmer) Disarm() {
	a.armed = nil
	a.disarm++
}

type fixture struct {
	controller *Controller
	service    *fakeService
	appState   *fakeAppState
	sim        *device.Simulator
	armer      *fakeArmer
}

func newFixture() *fixture {
	f := &fixture{
		service:  &fakeService{},
		appState: &fakeAppState{},
		sim:      device.NewSimulator(),
		armer:    &fakeArmer{},
	}
	f.controller = NewController(Config{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:  f.service,
		AppState: f.appState,
		Mediator: f.sim,
		Armer:    f.armer,
	})
	return f
}

var ctx = context.Background()

var draft = interfaces.ElectionDraft(`{"title":"test"}`)

func present(cohort interfaces.Cohort, id interfaces.ParticipantID) interfaces.DeviceEvent {
	return interfaces.DeviceEvent{Kind: interfaces.DevicePresent, Cohort: cohort, ID: id}
}

func removed(cohort interfaces.Cohort, id interfaces.ParticipantID) interfaces.DeviceEvent {
	return interfaces.DeviceEvent{Kind: interfaces.DeviceRemoved, Cohort: cohort, ID: id}
}

func (f *fixture) distribute(t *testing.T, cohort interfaces.Cohort, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := interfaces.ParticipantIDFromIndex(i)
		require.NoError(t, f.controller.HandleEvent(ctx, present(cohort, id)))
		require.NoError(t, f.controller.HandleEvent(ctx, removed(cohort, id)))
	}
}

func TestController_FullCeremony(t *testing.T) {
	f := newFixture()
	c := f.controller

	assert.Equal(t, StageSetupTrustees, c.Stage())
	require.NoError(t, c.SetupTrustees(ctx, draft, 3, 2))
	assert.Equal(t, StageKeyDistribution, c.Stage())
	assert.Equal(t, 1, f.appState.maps)
	assert.Equal(t, 1, f.appState.configs)
	assert.Equal(t, &interfaces.DeviceEvent{Cohort: interfaces.TrusteeCohort, ID: "0"}, f.armer.armed)

	f.distribute(t, interfaces.TrusteeCohort, 3)
	assert.Equal(t, StageSetupEncrypters, c.Stage())
	assert.Nil(t, f.armer.armed)

	payload, ok := f.sim.Written(interfaces.TrusteeCohort, "2")
	require.True(t, ok)
	assert.Equal(t, []byte("k2"), payload)

	require.NoError(t, c.SetupEncrypters(ctx, 2))
	assert.Equal(t, StageEncrypterDistribution, c.Stage())
	assert.Equal(t, &interfaces.DeviceEvent{Cohort: interfaces.EncrypterCohort, ID: "0"}, f.armer.armed)

	f.distribute(t, interfaces.EncrypterCohort, 2)
	assert.Equal(t, StageReady, c.Stage())
	assert.Equal(t, 1, f.appState.ready)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, c.WaitForReady(waitCtx))

	status := c.Status()
	assert.True(t, status.Ready)
	assert.Nil(t, status.Sequence)
	assert.Equal(t, 1, f.service.calls)
}

func TestController_ZeroEncryptersReachesReadyWithoutDeviceEvents(t *testing.T) {
	f := newFixture()
	c := f.controller

	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	f.distribute(t, interfaces.TrusteeCohort, 1)
	require.Equal(t, StageSetupEncrypters, c.Stage())

	writes := f.sim.Writes()
	require.NoError(t, c.SetupEncrypters(ctx, 0))
	assert.Equal(t, StageReady, c.Stage())
	assert.Equal(t, writes, f.sim.Writes())
	assert.Equal(t, 1, f.appState.ready)
}

func TestController_ReadyUnreachableWhileParticipantIncomplete(t *testing.T) {
	f := newFixture()
	c := f.controller

	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 1))
	f.distribute(t, interfaces.TrusteeCohort, 2)
	require.NoError(t, c.SetupEncrypters(ctx, 2))

	f.distribute(t, interfaces.EncrypterCohort, 1)
	assert.Equal(t, StageEncrypterDistribution, c.Stage())

	require.NoError(t, c.HandleEvent(ctx, present(interfaces.EncrypterCohort, "1")))
	assert.Equal(t, StageEncrypterDistribution, c.Stage(), "the drive must be removed before Ready")
	assert.True(t, c.Session().IsReady())

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForReady(waitCtx), context.DeadlineExceeded)

	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.EncrypterCohort, "1")))
	assert.Equal(t, StageReady, c.Stage())
}

func TestController_TrusteesCompleteOnlyAfterLastRemoval(t *testing.T) {
	f := newFixture()
	c := f.controller

	require.NoError(t, c.SetupTrustees(ctx, draft, 3, 2))
	f.distribute(t, interfaces.TrusteeCohort, 2)
	assert.False(t, c.Session().Trustees().IsFullyComplete())
	assert.Equal(t, StageKeyDistribution, c.Stage())

	next, ok := c.NextParticipant(interfaces.TrusteeCohort)
	require.True(t, ok)
	assert.Equal(t, interfaces.ParticipantID("2"), next)

	require.NoError(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "2")))
	assert.True(t, c.Session().Trustees().IsFullyComplete())
	assert.Equal(t, StageKeyDistribution, c.Stage())

	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.TrusteeCohort, "2")))
	assert.Equal(t, StageSetupEncrypters, c.Stage())
}

func TestController_SecondInsertionRejected(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 3, 2))

	require.NoError(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0")))
	err := c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "1"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceSequenceViolation)

	status := c.Status()
	require.NotNil(t, status.Sequence)
	assert.Equal(t, interfaces.ParticipantID("0"), status.Sequence.ID)
	assert.Equal(t, PhaseAwaitingRemoval, status.Sequence.Phase)

	p, err := c.Session().Trustees().Get("1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Incomplete, p.Status)
	_, written := f.sim.Written(interfaces.TrusteeCohort, "1")
	assert.False(t, written)

	err = c.HandleEvent(ctx, removed(interfaces.TrusteeCohort, "1"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceSequenceViolation)

	require.NoError(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0")), "re-read of the active card is accepted")
	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.TrusteeCohort, "0")))
	require.NoError(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "1")))
}

func TestController_WrongCohortAndStage(t *testing.T) {
	f := newFixture()
	c := f.controller

	err := c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidStageTransition)
	assert.ErrorIs(t, c.SetupEncrypters(ctx, 1), interfaces.ErrInvalidStageTransition)

	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	assert.ErrorIs(t, c.SetupTrustees(ctx, draft, 1, 1), interfaces.ErrInvalidStageTransition)
	assert.ErrorIs(t, c.SetupEncrypters(ctx, 1), interfaces.ErrInvalidStageTransition)

	err = c.HandleEvent(ctx, present(interfaces.EncrypterCohort, "0"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceSequenceViolation)

	err = c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "9"))
	assert.ErrorIs(t, err, interfaces.ErrUnknownParticipant)
	assert.Nil(t, c.Status().Sequence)

	assert.ErrorIs(t, c.Save(ctx, interfaces.EncrypterCohort), interfaces.ErrInvalidStageTransition)
	assert.ErrorIs(t, c.Save(ctx, interfaces.TrusteeCohort), interfaces.ErrDeviceSequenceViolation)
}

func TestController_WriteFailureKeepsSequenceOpen(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 1))

	f.sim.FailNextWrites(errors.New("card not responding"))
	err := c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceWriteFailed)

	status := c.Status()
	require.NotNil(t, status.Sequence)
	assert.Equal(t, PhaseInserted, status.Sequence.Phase)
	p, err := c.Session().Trustees().Get("0")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Incomplete, p.Status)

	require.NoError(t, c.Save(ctx, interfaces.TrusteeCohort))
	assert.Equal(t, PhaseAwaitingRemoval, c.Status().Sequence.Phase)
	p, err = c.Session().Trustees().Get("0")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Complete, p.Status)

	require.NoError(t, c.Save(ctx, interfaces.TrusteeCohort), "save after claim is a no-op")
	assert.Equal(t, 2, f.sim.Writes())
}

func TestController_RemovalBeforeWriteAborts(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))

	f.sim.FailNextWrites(errors.New("io error"))
	assert.Error(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0")))
	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.TrusteeCohort, "0")))

	assert.Equal(t, StageKeyDistribution, c.Stage())
	assert.Nil(t, c.Status().Sequence)
	assert.Equal(t, interfaces.ParticipantID("0"), c.Status().Next)
	assert.Equal(t, &interfaces.DeviceEvent{Cohort: interfaces.TrusteeCohort, ID: "0"}, f.armer.armed)
}

func TestController_ReadyIsTerminal(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	f.distribute(t, interfaces.TrusteeCohort, 1)
	require.NoError(t, c.SetupEncrypters(ctx, 0))
	require.Equal(t, StageReady, c.Stage())

	assert.ErrorIs(t, c.SetupTrustees(ctx, draft, 1, 1), interfaces.ErrCeremonyComplete)
	assert.ErrorIs(t, c.SetupEncrypters(ctx, 1), interfaces.ErrCeremonyComplete)
	assert.ErrorIs(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0")), interfaces.ErrCeremonyComplete)
	assert.ErrorIs(t, c.Save(ctx, interfaces.EncrypterCohort), interfaces.ErrCeremonyComplete)
	assert.Equal(t, 1, f.appState.ready)
}

func TestController_CreationFailureIsRetryable(t *testing.T) {
	f := newFixture()
	c := f.controller
	f.service.errs = []error{errors.New("service unavailable")}

	err := c.SetupTrustees(ctx, draft, 2, 2)
	assert.ErrorIs(t, err, interfaces.ErrCeremonyCreationFailed)
	assert.Equal(t, StageSetupTrustees, c.Stage())
	assert.Equal(t, 0, c.Session().Trustees().Len())

	assert.ErrorIs(t, c.SetupTrustees(ctx, draft, 2, 3), interfaces.ErrInvalidCeremonyParameters)
	assert.Equal(t, StageSetupTrustees, c.Stage())

	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 2))
	assert.Equal(t, StageKeyDistribution, c.Stage())
	assert.Equal(t, 2, c.Session().Trustees().Len())
	assert.Equal(t, 2, f.service.calls)
}

func TestController_ConcurrentSetupRejected(t *testing.T) {
	f := newFixture()
	c := f.controller
	f.service.started = make(chan struct{})
	f.service.release = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- c.SetupTrustees(ctx, draft, 3, 2) }()

	<-f.service.started
	assert.ErrorIs(t, c.SetupTrustees(ctx, draft, 3, 2), interfaces.ErrCeremonyCreationInProgress)
	assert.Equal(t, 0, c.Session().Trustees().Len())
	assert.Equal(t, StageSetupTrustees, c.Stage())

	close(f.service.release)
	require.NoError(t, <-done)
	assert.Equal(t, 3, c.Session().Trustees().Len())
	assert.Equal(t, 1, f.service.calls)
}

func TestController_ResetDuringCreationPublishesNothing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore("memory")
	state := appstate.NewState(logger, store)
	service := &fakeService{started: make(chan struct{}), release: make(chan struct{})}
	c := NewController(Config{
		Log:      logger,
		Service:  service,
		AppState: state,
		Mediator: device.NewSimulator(),
	})

	done := make(chan error, 1)
	go func() { done <- c.SetupTrustees(ctx, draft, 3, 2) }()

	<-service.started
	c.Reset()
	require.NoError(t, state.Reset(ctx))
	close(service.release)

	err := <-done
	assert.ErrorIs(t, err, interfaces.ErrCeremonyCreationFailed)
	assert.Equal(t, StageSetupTrustees, c.Stage())
	assert.False(t, c.Session().ElectionCreated())

	snapshot := state.Snapshot()
	assert.Nil(t, snapshot.ElectionGuardConfig)
	assert.Nil(t, snapshot.ElectionMap)
	_, err = store.Get(ctx, interfaces.ElectionGuardConfigKey)
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 1))
	assert.NotNil(t, state.Snapshot().ElectionGuardConfig)
}

func TestController_SetupTrusteesFromLoadsOnlyWhenAccepted(t *testing.T) {
	f := newFixture()
	c := f.controller
	f.service.started = make(chan struct{})
	f.service.release = make(chan struct{})

	loads := 0
	load := func(context.Context) (interfaces.ElectionDraft, error) {
		loads++
		return draft, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.SetupTrusteesFrom(ctx, 3, 2, load) }()

	<-f.service.started
	assert.ErrorIs(t, c.SetupTrusteesFrom(ctx, 3, 2, load), interfaces.ErrCeremonyCreationInProgress)
	assert.ErrorIs(t, c.UpdateElection(func() error {
		t.Fatal("election updated while creation is outstanding")
		return nil
	}), interfaces.ErrCeremonyCreationInProgress)

	close(f.service.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, loads)

	assert.ErrorIs(t, c.UpdateElection(func() error { return nil }), interfaces.ErrInvalidStageTransition)
}

func TestController_SetupTrusteesFromLoadFailure(t *testing.T) {
	f := newFixture()
	c := f.controller

	loadErr := errors.New("no election")
	err := c.SetupTrusteesFrom(ctx, 3, 2, func(context.Context) (interfaces.ElectionDraft, error) {
		return nil, loadErr
	})
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 0, f.service.calls)
	assert.Equal(t, StageSetupTrustees, c.Stage())

	require.NoError(t, c.SetupTrustees(ctx, draft, 3, 2))
}

func TestController_OutOfOrderDeviceRejected(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 3, 2))
	require.NotNil(t, f.armer.armed)
	assert.Equal(t, interfaces.ParticipantID("0"), f.armer.armed.ID)

	err := c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "2"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceSequenceViolation)
	p, err := c.Session().Trustees().Get("2")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Incomplete, p.Status)
	_, written := f.sim.Written(interfaces.TrusteeCohort, "2")
	assert.False(t, written)
	assert.Nil(t, c.Status().Sequence)

	f.distribute(t, interfaces.TrusteeCohort, 1)
	assert.Equal(t, interfaces.ParticipantID("1"), f.armer.armed.ID)
	require.NoError(t, c.HandleEvent(ctx, present(interfaces.TrusteeCohort, "0")), "re-read of a completed card is accepted")
	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.TrusteeCohort, "0")))

	f.distribute(t, interfaces.TrusteeCohort, 3)
	assert.Equal(t, StageSetupEncrypters, c.Stage())

	require.NoError(t, c.SetupEncrypters(ctx, 2))
	err = c.HandleEvent(ctx, present(interfaces.EncrypterCohort, "1"))
	assert.ErrorIs(t, err, interfaces.ErrDeviceSequenceViolation)
}

func TestController_MarkReadyFailureIsRetried(t *testing.T) {
	f := newFixture()
	c := f.controller
	f.appState.markReadyErr = errors.New("store offline")

	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	f.distribute(t, interfaces.TrusteeCohort, 1)
	require.NoError(t, c.SetupEncrypters(ctx, 1))
	require.NoError(t, c.HandleEvent(ctx, present(interfaces.EncrypterCohort, "0")))

	assert.Error(t, c.HandleEvent(ctx, removed(interfaces.EncrypterCohort, "0")))
	assert.Equal(t, StageEncrypterDistribution, c.Stage())

	require.NoError(t, c.Save(ctx, interfaces.EncrypterCohort))
	assert.Equal(t, StageReady, c.Stage())
	assert.Equal(t, 1, f.appState.ready)
}

func TestController_SetupEncryptersCanBeRepeatedBeforeFirstClaim(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	f.distribute(t, interfaces.TrusteeCohort, 1)

	require.NoError(t, c.SetupEncrypters(ctx, 3))
	require.NoError(t, c.SetupEncrypters(ctx, 2))
	assert.Equal(t, 2, c.Session().Encrypters().Len())

	require.NoError(t, c.HandleEvent(ctx, present(interfaces.EncrypterCohort, "0")))
	assert.ErrorIs(t, c.SetupEncrypters(ctx, 4), interfaces.ErrEncrypterDistributionStarted)
	require.NoError(t, c.HandleEvent(ctx, removed(interfaces.EncrypterCohort, "0")))
	assert.ErrorIs(t, c.SetupEncrypters(ctx, 4), interfaces.ErrEncrypterDistributionStarted)
}

func TestController_Reset(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 1, 1))
	f.distribute(t, interfaces.TrusteeCohort, 1)
	require.NoError(t, c.SetupEncrypters(ctx, 0))
	require.Equal(t, StageReady, c.Stage())
	oldSession := c.Session().ID()

	c.Reset()
	assert.Equal(t, StageSetupTrustees, c.Stage())
	assert.NotEqual(t, oldSession, c.Session().ID())
	assert.False(t, c.Session().ElectionCreated())

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForReady(waitCtx), context.DeadlineExceeded)

	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 1))
	assert.Equal(t, StageKeyDistribution, c.Stage())
}

func TestController_Resolve(t *testing.T) {
	f := newFixture()
	c := f.controller
	require.NoError(t, c.SetupTrustees(ctx, draft, 2, 1))

	for _, path := range []string{"/setup-keys", "/keys", "/key/save", "/key/remove", "/setup-encrypters", "/encrypters", "/encrypter/save", "/encrypter/remove", "/ready", "keys/"} {
		screen, err := c.Resolve(path)
		require.NoError(t, err, path)
		assert.Equal(t, StageKeyDistribution, screen.Stage)
	}

	screen, err := c.Resolve("/keys/1")
	require.NoError(t, err)
	assert.Equal(t, "key", screen.Name)
	require.NotNil(t, screen.Participant)
	assert.Equal(t, interfaces.ParticipantID("1"), screen.Participant.ID)

	before := c.Status()
	for _, path := range []string{"/", "/unknown", "/keys/7", "/keys/01", "/encrypters/0", "/keys/0/extra", "/key"} {
		_, err := c.Resolve(path)
		assert.ErrorIs(t, err, interfaces.ErrNotFound, path)
	}
	assert.Equal(t, before, c.Status())
}
