package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Observation is one attention reading reported by the detector service.
type Observation struct {
	Overall    float64            `json:"overall"`
	Students   map[string]float64 `json:"students"`
	HandRaised string             `json:"hand_raised,omitempty"`
	Frames     int                `json:"frames"`
}

// Client calls an external attention detector over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set every call returns a fixed mock observation.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 2 * time.Second, // must answer well within one sampling interval
		},
	}
}

// Observe asks the detector for the current class attention of the given students.
func (c *Client) Observe(ctx context.Context, sessionID string, studentIDs []string) (*Observation, error) {
	if c.Skip {
		students := make(map[string]float64, len(studentIDs))
		for _, id := range studentIDs {
			students[id] = 75
		}
		return &Observation{Overall: 80, Students: students, Frames: 1}, nil
	}

	body, err := json.Marshal(map[string]any{
		"session_id":  sessionID,
		"student_ids": studentIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("encode attention request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/attention", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("detector error %s: %s", resp.Status, string(bodyBytes))
	}

	var out Observation
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Frames == 0 {
		return nil, fmt.Errorf("no frames analysed")
	}
	return &out, nil
}

// Status is the detector's readiness report.
type Status struct {
	Cameras int `json:"cameras"`
	// Frames is how many frames the detector buffered since its last observation.
	Frames int `json:"frames"`
}

// ErrNoCameras means the detector is up but has no video source to observe.
var ErrNoCameras = errors.New("detector has no active cameras")

// Health asks the detector whether it can observe the classroom. A detector
// without cameras answers but cannot produce readings, so it counts as unhealthy.
func (c *Client) Health(ctx context.Context) (*Status, error) {
	if c.Skip {
		return &Status{Cameras: 1}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("detector unhealthy: %s", resp.Status)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode detector status: %w", err)
	}
	if st.Cameras == 0 {
		return &st, ErrNoCameras
	}
	return &st, nil
}
