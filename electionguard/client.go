package electionguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Client calls a remote ElectionGuard ceremony service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service rooted at baseURL
// (e.g. "http://localhost:8000"). The optional timeout defaults to 60 seconds.
func NewClient(baseURL string, timeout ...time.Duration) *Client {
	clientTimeout := 60 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

type createElectionRequest struct {
	Election            json.RawMessage     `json:"election"`
	ElectionGuardConfig electionGuardParams `json:"electionGuardConfig"`
}

type electionGuardParams struct {
	Threshold        int    `json:"threshold"`
	NumberOfTrustees int    `json:"numberOfTrustees"`
	ElectionMetadata string `json:"electionMetadata"`
}

type createElectionResponse struct {
	ElectionGuardConfig json.RawMessage   `json:"electionGuardConfig"`
	ElectionMap         json.RawMessage   `json:"electionMap"`
	TrusteeKeys         map[string][]byte `json:"trusteeKeys"`
}

// CreateElection implements interfaces.CeremonyCreationService.
func (c *Client) CreateElection(ctx context.Context, draft interfaces.ElectionDraft, params interfaces.CeremonyParameters) (*interfaces.CreationResponse, error) {
	election := json.RawMessage(draft)
	if len(draft) == 0 {
		election = json.RawMessage("null")
	} else if !json.Valid(draft) {
		return nil, fmt.Errorf("election draft is not valid JSON")
	}

	reqJSON, err := json.Marshal(createElectionRequest{
		Election: election,
		ElectionGuardConfig: electionGuardParams{
			Threshold:        params.Threshold,
			NumberOfTrustees: params.NumberOfTrustees,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/electionguard/CreateElection", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create election request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read create election response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create election request failed with code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("create election response is not JSON")
	}

	var result createElectionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse create election response: %w", err)
	}

	if len(result.ElectionGuardConfig) == 0 || string(result.ElectionGuardConfig) == "null" {
		return nil, fmt.Errorf("create election response is missing electionGuardConfig")
	}
	if len(result.ElectionMap) == 0 || string(result.ElectionMap) == "null" {
		return nil, fmt.Errorf("create election response is missing electionMap")
	}
	if len(result.TrusteeKeys) == 0 {
		return nil, fmt.Errorf("create election response is missing trusteeKeys")
	}

	keys := make(map[interfaces.ParticipantID][]byte, len(result.TrusteeKeys))
	for id, key := range result.TrusteeKeys {
		keys[interfaces.ParticipantID(id)] = key
	}

	return &interfaces.CreationResponse{
		ElectionGuardConfig: interfaces.ElectionGuardConfig(result.ElectionGuardConfig),
		ElectionMap:         interfaces.ElectionMap(result.ElectionMap),
		TrusteeKeys:         keys,
	}, nil
}
