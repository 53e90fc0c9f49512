package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// HistorySamples is how many of the newest snapshots are sent per request.
const HistorySamples = 20

// HTTPAdvisor is an Advisor backed by a JSON HTTP endpoint.
type HTTPAdvisor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTP creates an HTTP advisor. A non-positive timeout defaults to 30s.
func NewHTTP(baseURL, apiKey string, timeout time.Duration) *HTTPAdvisor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdvisor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type suggestRequest struct {
	Profile ecu.VehicleProfile `json:"profile"`
	Tune    ecu.TuneSettings   `json:"tune"`
	History []ecu.Telemetry    `json:"history"`
}

// Suggest posts the profile, tune and newest history to /suggest. A 204 or
// an empty body means no suggestion.
func (a *HTTPAdvisor) Suggest(ctx context.Context, profile ecu.VehicleProfile, current ecu.TuneSettings, history []ecu.Telemetry) (*Suggestion, error) {
	if len(history) > HistorySamples {
		history = history[len(history)-HistorySamples:]
	}
	body, err := json.Marshal(suggestRequest{Profile: profile, Tune: current, History: history})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/suggest", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggest request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	var s Suggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode suggestion: %w", err)
	}
	return &s, nil
}
