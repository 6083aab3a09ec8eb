// internal/api/client.go
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrolkit/engine/pkg/core"
)

// Client delivers detection notifications to the operator's webhook server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the webhook server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// notification is the wire shape of a webhook delivery.
type notification struct {
	Target     string      `json:"type"`
	Confidence float64     `json:"confidence"`
	Position   core.LatLng `json:"position"`
	ImageRef   string      `json:"image_url,omitempty"`
	Time       time.Time   `json:"time"`
}

// Notify posts a detection notification as JSON. The API key travels in the
// X-Api-Key header so the body stays loggable server side.
func (c *Client) Notify(payload core.NotifyPayload, at time.Time) error {
	body, err := json.Marshal(notification{
		Target:     payload.Target,
		Confidence: payload.Confidence,
		Position:   payload.Position,
		ImageRef:   payload.ImageRef,
		Time:       at,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/notifications", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification returned status %d", resp.StatusCode)
	}
	return nil
}
