package ceremony

import (
	"encoding/json"
	"fmt"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// EncrypterArtifact is the document written to an encrypter's drive: the
// election definition and the public ElectionGuard configuration it needs to
// encrypt ballots.
type EncrypterArtifact struct {
	EncrypterID         interfaces.ParticipantID `json:"encrypterId"`
	Election            json.RawMessage          `json:"election"`
	ElectionGuardConfig json.RawMessage          `json:"electionGuardConfig"`
}

// BuildEncrypterArtifact encodes the drive payload for one encrypter. Both
// the draft and the config must be JSON documents.
func BuildEncrypterArtifact(id interfaces.ParticipantID, draft interfaces.ElectionDraft, config interfaces.ElectionGuardConfig) ([]byte, error) {
	election := json.RawMessage("null")
	if len(draft) > 0 {
		if !json.Valid(draft) {
			return nil, fmt.Errorf("election draft is not valid JSON")
		}
		election = json.RawMessage(draft)
	}
	if !json.Valid(config) {
		return nil, fmt.Errorf("ElectionGuard config is not valid JSON")
	}

	return json.Marshal(EncrypterArtifact{
		EncrypterID:         id,
		Election:            election,
		ElectionGuardConfig: json.RawMessage(config),
	})
}
