package interfaces

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Cohort selects one of the two independent participant groups.
type Cohort int

const (
	// TrusteeCohort participants receive threshold key shares on smartcards.
	TrusteeCohort Cohort = iota
	// EncrypterCohort participants receive encryption artifacts on drives.
	EncrypterCohort
)

// String returns cohort name.
func (c Cohort) String() string {
	switch c {
	case TrusteeCohort:
		return "trustee"
	case EncrypterCohort:
		return "encrypter"
	default:
		return "unknown"
	}
}

// ParseCohort accepts both the singular and plural cohort names.
func ParseCohort(s string) (Cohort, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trustee", "trustees", "key", "keys":
		return TrusteeCohort, nil
	case "encrypter", "encrypters":
		return EncrypterCohort, nil
	default:
		return 0, fmt.Errorf("unknown cohort %q", s)
	}
}

func (c Cohort) MarshalText() ([]byte, error) {
	if c != TrusteeCohort && c != EncrypterCohort {
		return nil, fmt.Errorf("invalid cohort %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Cohort) UnmarshalText(text []byte) error {
	parsed, err := ParseCohort(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParticipantID identifies a participant within its cohort. Ids are assigned
// at roster creation and are the decimal indices 0..count-1.
type ParticipantID string

// ParticipantIDFromIndex returns the id assigned to the i-th participant.
func ParticipantIDFromIndex(i int) ParticipantID {
	return ParticipantID(strconv.Itoa(i))
}

// Index parses the id back into its roster position. Only the canonical
// decimal form is accepted, so "01" and "+1" are not aliases of "1".
func (id ParticipantID) Index() (int, error) {
	i, err := strconv.Atoi(string(id))
	if err != nil || i < 0 || strconv.Itoa(i) != string(id) {
		return 0, fmt.Errorf("participant id %q is not a roster index", string(id))
	}
	return i, nil
}

// CompletionStatus tracks whether a participant's device step is done.
type CompletionStatus int

const (
	Incomplete CompletionStatus = iota
	Complete
)

func (s CompletionStatus) String() string {
	if s == Complete {
		return "complete"
	}
	return "incomplete"
}

func (s CompletionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CompletionStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "complete":
		*s = Complete
	case "incomplete":
		*s = Incomplete
	default:
		return fmt.Errorf("unknown completion status %q", string(text))
	}
	return nil
}

// Participant is a single trustee or encrypter. The payload is the key share
// or drive artifact and is never serialized with the participant.
type Participant struct {
	ID      ParticipantID    `json:"id"`
	Cohort  Cohort           `json:"cohort"`
	Payload []byte           `json:"-"`
	Status  CompletionStatus `json:"status"`
}

// CeremonyParameters are the ceremony-wide counts. Their cryptographic
// meaning belongs to the creation service; locally only the ordering
// 1 <= Threshold <= NumberOfTrustees and NumberOfEncrypters >= 0 is enforced.
type CeremonyParameters struct {
	NumberOfTrustees   int `json:"numberOfTrustees"`
	Threshold          int `json:"threshold"`
	NumberOfEncrypters int `json:"numberOfEncrypters"`
}

// Validate checks the parameter ordering invariant.
func (p CeremonyParameters) Validate() error {
	if p.NumberOfTrustees < 1 {
		return fmt.Errorf("%w: number of trustees must be at least 1, got %d", ErrInvalidCeremonyParameters, p.NumberOfTrustees)
	}
	if p.Threshold < 1 || p.Threshold > p.NumberOfTrustees {
		return fmt.Errorf("%w: threshold must be between 1 and %d, got %d", ErrInvalidCeremonyParameters, p.NumberOfTrustees, p.Threshold)
	}
	if p.NumberOfEncrypters < 0 {
		return fmt.Errorf("%w: number of encrypters must not be negative, got %d", ErrInvalidCeremonyParameters, p.NumberOfEncrypters)
	}
	return nil
}

// ElectionDraft is the election definition being prepared. Its encoding is
// owned by the election-definition format and is handled as opaque JSON.
type ElectionDraft []byte

// ElectionGuardConfig is the opaque configuration produced by the creation service.
type ElectionGuardConfig []byte

// ElectionMap is the election-wide artifact map produced by the creation service.
type ElectionMap []byte

// CreationResponse is the output of a successful ceremony creation.
type CreationResponse struct {
	ElectionGuardConfig ElectionGuardConfig
	ElectionMap         ElectionMap
	TrusteeKeys         map[ParticipantID][]byte
}

// CeremonyCreationService generates the ElectionGuard configuration and one
// key-material item per trustee. Implementations may block on network I/O.
type CeremonyCreationService interface {
	CreateElection(ctx context.Context, draft ElectionDraft, params CeremonyParameters) (*CreationResponse, error)
}

// ApplicationState is the surrounding application that receives the ceremony
// outputs. Each setter is invoked exactly once per successful creation.
type ApplicationState interface {
	SetElectionMap(ctx context.Context, electionMap ElectionMap) error
	SetElectionGuardConfig(ctx context.Context, config ElectionGuardConfig) error
	MarkReady(ctx context.Context) error
}
