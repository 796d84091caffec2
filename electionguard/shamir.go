package electionguard

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

// SecretSize is the length of the joint election secret in bytes.
const SecretSize = 32

// maxTrustees is the share count limit of the vault shamir implementation.
const maxTrustees = 255

// ShamirService is a local ceremony creation service. It generates a joint
// election secret, splits it among the trustees and publishes a commitment to
// the secret in the ElectionGuard configuration.
//
// The secret itself is never returned; only the shares leave the service.
type ShamirService struct {
	log  *slog.Logger
	rand io.Reader
}

// ShamirConfig is the ElectionGuard configuration produced by ShamirService.
type ShamirConfig struct {
	ElectionID       string `json:"electionId"`
	Threshold        int    `json:"threshold"`
	NumberOfTrustees int    `json:"numberOfTrustees"`
	Commitment       string `json:"commitment"`
	ElectionMetadata string `json:"electionMetadata"`
}

// TrusteeKey is the payload written onto a trustee's smartcard.
type TrusteeKey struct {
	ElectionID string `json:"electionId"`
	TrusteeID  string `json:"trusteeId"`
	Threshold  int    `json:"threshold"`
	Share      []byte `json:"share"`
}

// NewShamirService creates a service drawing randomness from crypto/rand.
func NewShamirService(log *slog.Logger) *ShamirService {
	return &ShamirService{log: log, rand: rand.Reader}
}

// CreateElection implements interfaces.CeremonyCreationService.
func (s *ShamirService) CreateElection(ctx context.Context, draft interfaces.ElectionDraft, params interfaces.CeremonyParameters) (*interfaces.CreationResponse, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.NumberOfTrustees > maxTrustees {
		return nil, fmt.Errorf("%w: at most %d trustees are supported", interfaces.ErrInvalidCeremonyParameters, maxTrustees)
	}
	if len(draft) > 0 && !json.Valid(draft) {
		return nil, fmt.Errorf("election draft is not valid JSON")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(s.rand, secret); err != nil {
		return nil, fmt.Errorf("failed to generate election secret: %w", err)
	}

	shares, err := SplitSecret(secret, params.NumberOfTrustees, params.Threshold)
	if err != nil {
		return nil, err
	}

	electionID := uuid.New().String()
	commitment := sha256.Sum256(secret)
	clear(secret)

	config, err := json.Marshal(ShamirConfig{
		ElectionID:       electionID,
		Threshold:        params.Threshold,
		NumberOfTrustees: params.NumberOfTrustees,
		Commitment:       hex.EncodeToString(commitment[:]),
	})
	if err != nil {
		return nil, err
	}

	draftHash := sha256.Sum256(draft)
	electionMap, err := json.Marshal(map[string]string{
		"electionId":   electionID,
		"electionHash": hex.EncodeToString(draftHash[:]),
	})
	if err != nil {
		return nil, err
	}

	keys := make(map[interfaces.ParticipantID][]byte, len(shares))
	for i, share := range shares {
		id := interfaces.ParticipantIDFromIndex(i)
		key, err := json.Marshal(TrusteeKey{
			ElectionID: electionID,
			TrusteeID:  string(id),
			Threshold:  params.Threshold,
			Share:      share,
		})
		if err != nil {
			return nil, err
		}
		keys[id] = key
	}

	s.log.Info("Election secret split", "electionId", electionID, "threshold", params.Threshold, "numberOfTrustees", params.NumberOfTrustees)

	return &interfaces.CreationResponse{
		ElectionGuardConfig: config,
		ElectionMap:         electionMap,
		TrusteeKeys:         keys,
	}, nil
}

// SplitSecret splits secret into n shares any threshold of which recover it.
// A threshold of 1 hands every trustee a full copy of the secret.
func SplitSecret(secret []byte, n, threshold int) ([][]byte, error) {
	if threshold < 1 || threshold > n {
		return nil, fmt.Errorf("%w: threshold %d out of range for %d trustees", interfaces.ErrInvalidCeremonyParameters, threshold, n)
	}

	if threshold == 1 {
		shares := make([][]byte, n)
		for i := range shares {
			shares[i] = bytes.Clone(secret)
		}
		return shares, nil
	}

	shares, err := shamir.Split(secret, n, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split election secret: %w", err)
	}
	return shares, nil
}

// CombineShares recovers the secret from at least threshold shares produced
// by SplitSecret.
func CombineShares(shares [][]byte, threshold int) ([]byte, error) {
	if len(shares) < threshold || len(shares) == 0 {
		return nil, fmt.Errorf("need %d shares, got %d", threshold, len(shares))
	}
	if threshold == 1 {
		return bytes.Clone(shares[0]), nil
	}
	return shamir.Combine(shares)
}

// VerifyCommitment checks a recovered secret against the configuration.
func VerifyCommitment(config interfaces.ElectionGuardConfig, secret []byte) error {
	var parsed ShamirConfig
	if err := json.Unmarshal(config, &parsed); err != nil {
		return fmt.Errorf("failed to parse ElectionGuard config: %w", err)
	}
	digest := sha256.Sum256(secret)
	if parsed.Commitment != hex.EncodeToString(digest[:]) {
		return fmt.Errorf("secret does not match the election commitment")
	}
	return nil
}

// RecoverSecret combines trustee key payloads back into the election secret.
// All keys must belong to the same election.
func RecoverSecret(keys [][]byte) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("no trustee keys given")
	}

	var electionID string
	var threshold int
	shares := make([][]byte, 0, len(keys))
	for i, raw := range keys {
		var key TrusteeKey
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("trustee key %d: %w", i, err)
		}
		if i == 0 {
			electionID, threshold = key.ElectionID, key.Threshold
		} else if key.ElectionID != electionID {
			return nil, fmt.Errorf("trustee key %d belongs to election %s, expected %s", i, key.ElectionID, electionID)
		}
		shares = append(shares, key.Share)
	}

	return CombineShares(shares, threshold)
}
