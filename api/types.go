package api

import (
	"encoding/json"

	"github.com/ruteri/election-ceremony-console/appstate"
	"github.com/ruteri/election-ceremony-console/flow"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

// SetupKeysRequest configures the trustee cohort. Election optionally
// replaces the loaded election draft before creation.
type SetupKeysRequest struct {
	NumberOfTrustees int             `json:"numberOfTrustees"`
	Threshold        int             `json:"threshold"`
	Election         json.RawMessage `json:"election,omitempty"`
}

type SetupEncryptersRequest struct {
	NumberOfEncrypters int `json:"numberOfEncrypters"`
}

// DeviceEventRequest reports an insertion or removal for a participant.
type DeviceEventRequest struct {
	Cohort interfaces.Cohort        `json:"cohort"`
	ID     interfaces.ParticipantID `json:"id"`
}

// StatusResponse combines the ceremony and the application state.
type StatusResponse struct {
	Ceremony    flow.Status       `json:"ceremony"`
	Application appstate.Snapshot `json:"application"`
}

// RosterResponse lists one cohort.
type RosterResponse struct {
	Cohort       interfaces.Cohort        `json:"cohort"`
	Participants []interfaces.Participant `json:"participants"`
	Next         interfaces.ParticipantID `json:"next,omitempty"`
	Complete     bool                     `json:"complete"`
}

type ReadyResponse struct {
	Ready bool       `json:"ready"`
	Stage flow.Stage `json:"stage"`
}

// HealthResponse is returned by the liveness, readiness and drain endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Stage  string `json:"stage,omitempty"`
}
