package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ruteri/election-ceremony-console/flow"
	"github.com/ruteri/election-ceremony-console/interfaces"
)

// Client talks to a running ceremony console.
type Client struct {
	BaseURL string
	Client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  http.DefaultClient,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("console returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetElection uploads the election definition.
func (c *Client) SetElection(ctx context.Context, election []byte) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPut, "/election", json.RawMessage(election), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetupKeys(ctx context.Context, req SetupKeysRequest) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/setup-keys", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetupEncrypters(ctx context.Context, numberOfEncrypters int) (*StatusResponse, error) {
	var resp StatusResponse
	req := SetupEncryptersRequest{NumberOfEncrypters: numberOfEncrypters}
	if err := c.do(ctx, http.MethodPost, "/setup-encrypters", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Roster(ctx context.Context, cohort interfaces.Cohort) (*RosterResponse, error) {
	path := "/keys"
	if cohort == interfaces.EncrypterCohort {
		path = "/encrypters"
	}
	var resp RosterResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeviceEvent reports an insertion or removal to the console.
func (c *Client) DeviceEvent(ctx context.Context, ev interfaces.DeviceEvent) (*StatusResponse, error) {
	path := "/devices/present"
	if ev.Kind == interfaces.DeviceRemoved {
		path = "/devices/removed"
	}
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, path, DeviceEventRequest{Cohort: ev.Cohort, ID: ev.ID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Save(ctx context.Context, cohort interfaces.Cohort) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/save/"+cohort.String(), struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ready reports whether the ceremony is complete. A 409 answer is not an error.
func (c *Client) Ready(ctx context.Context) (*ReadyResponse, error) {
	var resp ReadyResponse
	err := c.do(ctx, http.MethodGet, "/ready", nil, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		if jsonErr := json.Unmarshal([]byte(statusErr.Message), &resp); jsonErr == nil {
			return &resp, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Screen(ctx context.Context, route string) (*flow.Screen, error) {
	var resp flow.Screen
	if err := c.do(ctx, http.MethodGet, "/screen/"+strings.TrimLeft(route, "/"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Reset(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.do(ctx, http.MethodPost, "/reset", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/api/ceremony"+path, reqBody)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.Client == nil {
		c.Client = http.DefaultClient
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request console: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read console response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("could not parse console response: %w", err)
	}
	return nil
}
