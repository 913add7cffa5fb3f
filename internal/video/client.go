package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client provisions consultation rooms with the video provider. It implements
// the session-creation hook the appointment lifecycle calls on confirmation.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type createSessionRequest struct {
	RoomRef      string   `json:"room_ref"`
	Participants []string `json:"participants"`
}

type createSessionResponse struct {
	SessionRef string `json:"session_ref"`
	JoinURL    string `json:"join_url"`
}

func (c *Client) CreateSession(ctx context.Context, appointmentID, patientID, providerID uuid.UUID) (string, error) {
	body, err := json.Marshal(createSessionRequest{
		RoomRef:      "appt_" + appointmentID.String(),
		Participants: []string{patientID.String(), providerID.String()},
	})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("video provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("video provider returned status %d", resp.StatusCode)
	}

	var out createSessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	return out.JoinURL, nil
}

// NopSessions satisfies the session hook when no video provider is
// configured; in-person and audio-only deployments run this way.
type NopSessions struct{}

func (NopSessions) CreateSession(ctx context.Context, appointmentID, patientID, providerID uuid.UUID) (string, error) {
	return "", nil
}
