package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/election-ceremony-console/ceremony"
	"github.com/ruteri/election-ceremony-console/interfaces"
	"github.com/ruteri/election-ceremony-console/metrics"
)

// Config wires a Controller to its collaborators. Armer and Metrics are optional.
type Config struct {
	Log      *slog.Logger
	Service  interfaces.CeremonyCreationService
	AppState interfaces.ApplicationState
	Mediator interfaces.DeviceMediator
	Armer    interfaces.DeviceArmer
	Metrics  *metrics.Metrics
}

// Controller sequences one ceremony at a time.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	session    *ceremony.Session
	stage      Stage
	creating   bool
	sequencers map[interfaces.Cohort]*Sequencer

	readyChan chan struct{}
}

// SequenceStatus describes the open device sequence.
type SequenceStatus struct {
	Cohort interfaces.Cohort        `json:"cohort"`
	ID     interfaces.ParticipantID `json:"id"`
	Phase  Phase                    `json:"phase"`
}

// Status is a point-in-time view of the ceremony.
type Status struct {
	Stage    Stage                    `json:"stage"`
	Session  ceremony.Snapshot        `json:"session"`
	Sequence *SequenceStatus          `json:"sequence,omitempty"`
	Next     interfaces.ParticipantID `json:"next,omitempty"`
	Ready    bool                     `json:"ready"`
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		cfg:       cfg,
		log:       cfg.Log,
		readyChan: make(chan struct{}),
	}
	c.resetLocked()
	return c
}

func (c *Controller) resetLocked() {
	if c.session != nil {
		c.session.Discard()
	}
	c.session = ceremony.NewSession(c.log, c.cfg.Service, c.cfg.AppState)
	c.stage = StageSetupTrustees
	c.creating = false
	c.sequencers = map[interfaces.Cohort]*Sequencer{
		interfaces.TrusteeCohort:   NewSequencer(interfaces.TrusteeCohort),
		interfaces.EncrypterCohort: NewSequencer(interfaces.EncrypterCohort),
	}
	select {
	case <-c.readyChan:
		c.readyChan = make(chan struct{})
	default:
	}
	c.disarm()
	c.cfg.Metrics.SetStage(int(c.stage))
}

// Reset discards the session and returns to SetupTrustees. An outstanding
// creation call fails without publishing its outputs.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Warn("Ceremony reset", "stage", c.stage.String(), "ceremonySession", c.session.ID())
	c.resetLocked()
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

func (c *Controller) Session() *ceremony.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetupTrustees configures the session and creates the election. The creation
// call runs outside the controller lock; a concurrent call is rejected with
// interfaces.ErrCeremonyCreationInProgress. On failure the stage is unchanged.
func (c *Controller) SetupTrustees(ctx context.Context, draft interfaces.ElectionDraft, numberOfTrustees, threshold int) error {
	return c.SetupTrusteesFrom(ctx, numberOfTrustees, threshold, func(context.Context) (interfaces.ElectionDraft, error) {
		return draft, nil
	})
}

// SetupTrusteesFrom is SetupTrustees with the draft produced by load. load
// runs under the controller lock after the stage and in-flight checks, so a
// rejected request never reaches it.
func (c *Controller) SetupTrusteesFrom(ctx context.Context, numberOfTrustees, threshold int, load func(context.Context) (interfaces.ElectionDraft, error)) error {
	c.mu.Lock()
	if err := c.requireStage(StageSetupTrustees); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.creating {
		c.mu.Unlock()
		return interfaces.ErrCeremonyCreationInProgress
	}
	session := c.session
	if err := session.Configure(numberOfTrustees, threshold, 0); err != nil {
		c.mu.Unlock()
		return err
	}
	draft, err := load(ctx)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.creating = true
	c.mu.Unlock()

	_, err = session.CreateElection(ctx, draft)

	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.session {
		c.log.Warn("Discarding election created for a reset session")
		if err == nil {
			err = fmt.Errorf("%w: ceremony was reset while the election was being created", interfaces.ErrCeremonyCreationFailed)
		}
		return err
	}
	c.creating = false

	if err != nil {
		if errors.Is(err, interfaces.ErrCeremonyCreationFailed) {
			c.cfg.Metrics.IncCreationFailures()
		}
		return err
	}

	c.setStage(StageKeyDistribution)
	c.arm(interfaces.TrusteeCohort)
	return nil
}

// UpdateElection runs fn while the election may still change: during
// SetupTrustees with no creation call outstanding.
func (c *Controller) UpdateElection(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireStage(StageSetupTrustees); err != nil {
		return err
	}
	if c.creating {
		return interfaces.ErrCeremonyCreationInProgress
	}
	return fn()
}

// SetupEncrypters populates the encrypter registry and starts distribution.
// With zero encrypters the ceremony moves straight to Ready. It may be repeated
// during EncrypterDistribution until the first drive is claimed.
func (c *Controller) SetupEncrypters(ctx context.Context, numberOfEncrypters int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage == StageEncrypterDistribution {
		if _, active := c.sequencers[interfaces.EncrypterCohort].Active(); active {
			return fmt.Errorf("%w: an encrypter drive is inserted", interfaces.ErrEncrypterDistributionStarted)
		}
	} else if err := c.requireStage(StageSetupEncrypters); err != nil {
		return err
	}

	if err := c.session.SetEncrypterCount(numberOfEncrypters); err != nil {
		return err
	}

	c.setStage(StageEncrypterDistribution)
	if err := c.advance(ctx); err != nil {
		return err
	}
	if c.stage == StageEncrypterDistribution {
		c.arm(interfaces.EncrypterCohort)
	}
	return nil
}

// HandleEvent processes a device event. A present event for the active cohort
// opens (or re-reads) the participant's sequence and writes its payload; a
// successful write claims the participant. A removed event closes the
// sequence and advances the stage once the cohort is complete.
func (c *Controller) HandleEvent(ctx context.Context, ev interfaces.DeviceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cohort, err := c.activeCohort()
	if err != nil {
		return err
	}
	if ev.Cohort != cohort {
		c.cfg.Metrics.IncDeviceViolations()
		return fmt.Errorf("%w: %s device event during %s", interfaces.ErrDeviceSequenceViolation, ev.Cohort, c.stage)
	}

	log := c.log.With("cohort", ev.Cohort.String(), "id", string(ev.ID), "event", ev.Kind.String())
	seq := c.sequencers[cohort]

	switch ev.Kind {
	case interfaces.DevicePresent:
		registry := c.session.Registry(cohort)
		participant, err := registry.Get(ev.ID)
		if err != nil {
			log.Error("Device presented for unknown participant", "err", err)
			return err
		}
		// Participants are written in ascending id order. Re-reading a
		// completed device is still allowed.
		if seq.Phase() == PhaseIdle && participant.Status != interfaces.Complete {
			if next, ok := registry.NextIncomplete(); ok && next != ev.ID {
				c.cfg.Metrics.IncDeviceViolations()
				log.Warn("Device presented out of order", "expected", string(next))
				return fmt.Errorf("%w: %s %s presented, expected %s", interfaces.ErrDeviceSequenceViolation, cohort, ev.ID, next)
			}
		}
		if err := seq.Present(ev.ID); err != nil {
			c.cfg.Metrics.IncDeviceViolations()
			log.Warn("Device event rejected", "err", err)
			return err
		}
		if seq.Phase() == PhaseAwaitingRemoval {
			log.Debug("Device re-read after claim")
			return nil
		}
		return c.writeAndClaim(ctx, seq)

	case interfaces.DeviceRemoved:
		claimed, err := seq.Removed(ev.ID)
		if err != nil {
			c.cfg.Metrics.IncDeviceViolations()
			log.Warn("Device event rejected", "err", err)
			return err
		}
		if !claimed {
			log.Warn("Device removed before the write was confirmed")
		}
		if err := c.advance(ctx); err != nil {
			return err
		}
		if c.stage == StageKeyDistribution || c.stage == StageEncrypterDistribution {
			c.arm(cohort)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown device event kind %d", interfaces.ErrDeviceSequenceViolation, ev.Kind)
	}
}

// Save retries the write for the inserted device of cohort. It is a no-op when
// the participant is already claimed and awaits removal.
func (c *Controller) Save(ctx context.Context, cohort interfaces.Cohort) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	active, err := c.activeCohort()
	if err != nil {
		return err
	}
	if cohort != active {
		return fmt.Errorf("%w: cannot save %s during %s", interfaces.ErrInvalidStageTransition, cohort, c.stage)
	}

	seq := c.sequencers[cohort]
	switch seq.Phase() {
	case PhaseInserted:
		return c.writeAndClaim(ctx, seq)
	case PhaseAwaitingRemoval:
		return nil
	default:
		if err := c.advance(ctx); err != nil {
			return err
		}
		if c.stage == StageReady {
			return nil
		}
		return fmt.Errorf("%w: no %s device inserted", interfaces.ErrDeviceSequenceViolation, cohort)
	}
}

func (c *Controller) writeAndClaim(ctx context.Context, seq *Sequencer) error {
	id, _ := seq.Active()
	cohort := seq.cohort
	registry := c.session.Registry(cohort)

	participant, err := registry.Get(id)
	if err != nil {
		return err
	}

	if err := c.cfg.Mediator.Write(ctx, cohort, id, participant.Payload); err != nil {
		c.log.Error("Device write failed", "cohort", cohort.String(), "id", string(id), "err", err)
		return fmt.Errorf("%w: %w", interfaces.ErrDeviceWriteFailed, err)
	}

	wasComplete := participant.Status == interfaces.Complete
	if _, err := c.session.Claim(cohort, id); err != nil {
		return err
	}
	if err := seq.Written(); err != nil {
		return err
	}
	if !wasComplete {
		c.cfg.Metrics.IncClaims(cohort.String())
	}
	return nil
}

// advance moves past a distribution stage once its registry is complete and no
// device is left inserted.
func (c *Controller) advance(ctx context.Context) error {
	switch c.stage {
	case StageKeyDistribution:
		if c.sequencers[interfaces.TrusteeCohort].Phase() == PhaseIdle && c.session.Trustees().IsFullyComplete() {
			c.setStage(StageSetupEncrypters)
			c.disarm()
		}
	case StageEncrypterDistribution:
		if c.sequencers[interfaces.EncrypterCohort].Phase() == PhaseIdle && c.session.IsReady() {
			return c.enterReady(ctx)
		}
	}
	return nil
}

func (c *Controller) enterReady(ctx context.Context) error {
	if err := c.cfg.AppState.MarkReady(ctx); err != nil {
		c.log.Error("Could not mark the election ready", "err", err)
		return fmt.Errorf("could not mark the election ready: %w", err)
	}
	c.setStage(StageReady)
	c.disarm()
	close(c.readyChan)
	c.log.Info("Ceremony complete",
		"trustees", c.session.Trustees().Len(),
		"encrypters", c.session.Encrypters().Len())
	return nil
}

func (c *Controller) setStage(stage Stage) {
	c.log.Info("Ceremony stage changed", "from", c.stage.String(), "to", stage.String())
	c.stage = stage
	c.cfg.Metrics.SetStage(int(stage))
}

func (c *Controller) requireStage(stage Stage) error {
	if c.stage == StageReady {
		return interfaces.ErrCeremonyComplete
	}
	if c.stage != stage {
		return fmt.Errorf("%w: expected %s, current stage is %s", interfaces.ErrInvalidStageTransition, stage, c.stage)
	}
	return nil
}

func (c *Controller) activeCohort() (interfaces.Cohort, error) {
	switch c.stage {
	case StageKeyDistribution:
		return interfaces.TrusteeCohort, nil
	case StageEncrypterDistribution:
		return interfaces.EncrypterCohort, nil
	case StageReady:
		return 0, interfaces.ErrCeremonyComplete
	default:
		return 0, fmt.Errorf("%w: no device distribution during %s", interfaces.ErrInvalidStageTransition, c.stage)
	}
}

func (c *Controller) arm(cohort interfaces.Cohort) {
	if c.cfg.Armer == nil {
		return
	}
	if id, ok := c.session.Registry(cohort).NextIncomplete(); ok {
		c.cfg.Armer.Arm(cohort, id)
		return
	}
	c.cfg.Armer.Disarm()
}

func (c *Controller) disarm() {
	if c.cfg.Armer != nil {
		c.cfg.Armer.Disarm()
	}
}

// NextParticipant returns the lowest Incomplete id of cohort.
func (c *Controller) NextParticipant(cohort interfaces.Cohort) (interfaces.ParticipantID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Registry(cohort).NextIncomplete()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Stage:   c.stage,
		Session: c.session.Snapshot(),
		Ready:   c.stage == StageReady,
	}
	if cohort, err := c.activeCohort(); err == nil {
		seq := c.sequencers[cohort]
		if id, ok := seq.Active(); ok {
			status.Sequence = &SequenceStatus{Cohort: cohort, ID: id, Phase: seq.Phase()}
		}
		status.Next, _ = c.session.Registry(cohort).NextIncomplete()
	}
	return status
}

// WaitForReady blocks until the ceremony reaches Ready or ctx is done.
func (c *Controller) WaitForReady(ctx context.Context) error {
	c.mu.Lock()
	readyChan := c.readyChan
	c.mu.Unlock()

	select {
	case <-readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
