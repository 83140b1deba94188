// Package adminclient is authgatectl's HTTP client for the rotation admin
// surface (spec §6.3): every call carries the administrative bearer token
// retrieved from the OS keychain by the login command.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the rotation endpoints of a running `authgatectl serve`
// admin process.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. http://localhost:8082, the serve default)
// authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// RotationRecord mirrors adminserver's wire shape for a rotation record.
type RotationRecord struct {
	RotationID              string     `json:"rotationId"`
	ClientID                string     `json:"clientId"`
	State                   string     `json:"state"`
	OldVersionID            string     `json:"oldVersionId"`
	NewVersionID            string     `json:"newVersionId"`
	StartedAt               time.Time  `json:"startedAt"`
	CompletedAt             *time.Time `json:"completedAt,omitempty"`
	TransitionPeriodSeconds int        `json:"transitionPeriodSeconds"`
	Reason                  string     `json:"reason,omitempty"`
	FailureReason           string     `json:"failureReason,omitempty"`
	Version                 int        `json:"version"`
}

// InitiateResponse is the initiate endpoint's success body.
type InitiateResponse struct {
	Record       RotationRecord `json:"record"`
	NewRawSecret string         `json:"newRawSecret"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Initiate calls POST /api/v1/rotations/initiate.
func (c *Client) Initiate(ctx context.Context, clientID, reason string, transitionPeriodMinutes int, force bool) (InitiateResponse, error) {
	var out InitiateResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/rotations/initiate", map[string]interface{}{
		"clientId":                clientID,
		"reason":                  reason,
		"transitionPeriodMinutes": transitionPeriodMinutes,
		"forceRotation":           force,
	}, &out)
	return out, err
}

// Get calls GET /api/v1/rotations/{id}.
func (c *Client) Get(ctx context.Context, rotationID string) (RotationRecord, error) {
	var out RotationRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/rotations/"+rotationID, nil, &out)
	return out, err
}

// Advance calls PUT /api/v1/rotations/{id}/advance.
func (c *Client) Advance(ctx context.Context, rotationID, targetState string) (RotationRecord, error) {
	var out RotationRecord
	err := c.do(ctx, http.MethodPut, "/api/v1/rotations/"+rotationID+"/advance", map[string]string{"targetState": targetState}, &out)
	return out, err
}

// Complete calls PUT /api/v1/rotations/{id}/complete.
func (c *Client) Complete(ctx context.Context, rotationID string) (RotationRecord, error) {
	var out RotationRecord
	err := c.do(ctx, http.MethodPut, "/api/v1/rotations/"+rotationID+"/complete", nil, &out)
	return out, err
}

// Cancel calls DELETE /api/v1/rotations/{id}.
func (c *Client) Cancel(ctx context.Context, rotationID, reason string) (RotationRecord, error) {
	var out RotationRecord
	err := c.do(ctx, http.MethodDelete, "/api/v1/rotations/"+rotationID, map[string]string{"reason": reason}, &out)
	return out, err
}

// ByClient calls GET /api/v1/rotations/client/{clientId}.
func (c *Client) ByClient(ctx context.Context, clientID string) ([]RotationRecord, error) {
	var out []RotationRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/rotations/client/"+clientID, nil, &out)
	return out, err
}

// Active calls GET /api/v1/rotations/active.
func (c *Client) Active(ctx context.Context) ([]RotationRecord, error) {
	var out []RotationRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/rotations/active", nil, &out)
	return out, err
}
