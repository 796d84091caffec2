package interfaces

import (
	"context"
	"fmt"
)

// DeviceEventKind distinguishes insertion from removal.
type DeviceEventKind int

const (
	DevicePresent DeviceEventKind = iota
	DeviceRemoved
)

func (k DeviceEventKind) String() string {
	switch k {
	case DevicePresent:
		return "present"
	case DeviceRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// DeviceEvent is raised by the smartcard/USB layer.
type DeviceEvent struct {
	Kind   DeviceEventKind
	Cohort Cohort
	ID     ParticipantID
}

func (e DeviceEvent) String() string {
	return fmt.Sprintf("%s %s %s", e.Cohort, e.ID, e.Kind)
}

// DeviceMediator writes a participant payload onto the inserted token. A nil
// error is the write confirmation.
type DeviceMediator interface {
	Write(ctx context.Context, cohort Cohort, id ParticipantID, payload []byte) error
}

// DeviceArmer is implemented by mediators that cannot identify the inserted
// token themselves and attribute the next insertion to the armed participant.
type DeviceArmer interface {
	Arm(cohort Cohort, id ParticipantID)
	Disarm()
}
