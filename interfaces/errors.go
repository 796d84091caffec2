package interfaces

import "errors"

var (
	// ErrInvalidCeremonyParameters is returned when trustee, threshold or
	// encrypter counts violate 1 <= threshold <= trustees, encrypters >= 0.
	ErrInvalidCeremonyParameters = errors.New("invalid ceremony parameters")

	// ErrUnknownParticipant is returned for ids outside the configured roster.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrCeremonyCreationFailed wraps creation service and response failures.
	// The session is left unchanged and creation may be retried.
	ErrCeremonyCreationFailed = errors.New("ceremony creation failed")

	// ErrCeremonyCreationInProgress is returned when a creation call is issued
	// while another one is outstanding.
	ErrCeremonyCreationInProgress = errors.New("ceremony creation already in progress")

	// ErrElectionAlreadyCreated is returned when the election configuration
	// has already been set for this session.
	ErrElectionAlreadyCreated = errors.New("election already created")

	// ErrElectionNotCreated is returned by operations that need the
	// ElectionGuard configuration before it exists.
	ErrElectionNotCreated = errors.New("election not created")

	// ErrEncrypterDistributionStarted is returned when the encrypter roster is
	// resized after a drive has been claimed.
	ErrEncrypterDistributionStarted = errors.New("encrypter distribution already started")

	// ErrDeviceSequenceViolation is returned when a device event does not fit
	// the insert, write, claim, remove sequence of the active participant.
	ErrDeviceSequenceViolation = errors.New("device sequence violation")

	// ErrDeviceWriteFailed is returned when a payload could not be written to
	// or confirmed on the inserted device. The sequence stays open for a retry.
	ErrDeviceWriteFailed = errors.New("device write failed")

	// ErrInvalidStageTransition is returned for operations not allowed in the
	// current ceremony stage.
	ErrInvalidStageTransition = errors.New("invalid stage transition")

	// ErrCeremonyComplete is returned for any mutation once the ceremony is ready.
	ErrCeremonyComplete = errors.New("ceremony complete")

	// ErrNotFound is returned for navigation to an unknown ceremony route.
	ErrNotFound = errors.New("not found")
)
