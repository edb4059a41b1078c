// Package observer is a client for the simulation's HTTP API. It waits for
// the API to come up, fetches status, gangs and events, and can request a
// shutdown with the admin key.
package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/talgya/undercover/internal/api"
	"github.com/talgya/undercover/internal/state"
)

// ErrStopped is returned once the simulation has been torn down and the API
// answers 503.
var ErrStopped = errors.New("simulation stopped")

// Observation holds everything collected in one poll.
type Observation struct {
	Status api.StatusResponse `json:"status"`
	Gangs  []api.GangSummary  `json:"gangs"`
	Events []state.Event      `json:"events"`
}

// Observer fetches simulation state from the API.
type Observer struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client

	lastSeq uint64
}

// New creates an Observer targeting the given API base URL.
func New(baseURL, adminKey string) *Observer {
	return &Observer{
		BaseURL:  baseURL,
		AdminKey: adminKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Observe fetches status, gangs and the events recorded since the previous
// Observe call.
func (o *Observer) Observe(ctx context.Context) (*Observation, error) {
	obs := &Observation{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &obs.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/gangs", &obs.Gangs); err != nil {
		return nil, fmt.Errorf("fetch gangs: %w", err)
	}
	path := "/api/v1/events?limit=100"
	if o.lastSeq > 0 {
		path = "/api/v1/events?since=" + strconv.FormatUint(o.lastSeq, 10)
	}
	if err := o.fetchJSON(ctx, path, &obs.Events); err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}

	// The first fetch is newest first; later ones are oldest first.
	for _, e := range obs.Events {
		if e.Seq > o.lastSeq {
			o.lastSeq = e.Seq
		}
	}
	if len(obs.Events) > 1 && obs.Events[0].Seq > obs.Events[len(obs.Events)-1].Seq {
		for i, j := 0, len(obs.Events)-1; i < j; i, j = i+1, j-1 {
			obs.Events[i], obs.Events[j] = obs.Events[j], obs.Events[i]
		}
	}
	return obs, nil
}

// ShutdownResult is the response from POST /api/v1/shutdown.
type ShutdownResult struct {
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Reason   string `json:"reason"`
	Duration string `json:"duration"`
}

// Shutdown asks the simulation to stop.
func (o *Observer) Shutdown(ctx context.Context) (*ShutdownResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/v1/shutdown", bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.AdminKey)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST shutdown: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("shutdown failed (%d): %s", resp.StatusCode, string(body))
	}

	var result ShutdownResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return ErrStopped
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
