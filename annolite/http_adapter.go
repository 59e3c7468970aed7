// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobiletoly/go-annosync/annosync"
)

// HTTPAdapter delivers actions to a go-annosync server over HTTP. Single
// actions go through the endpoint router; batches go through the server's
// /sync/batch endpoint in chunks of at most annosync.MaxBatchSize.
//
// Ordinary HTTP error statuses become structured failures; Go errors are
// returned only for transport-level problems. The client's timeout is the
// adapter's responsibility, not the engine's.
type HTTPAdapter struct {
	BaseURL string
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPAdapter creates an adapter targeting the given server base URL.
func NewHTTPAdapter(baseURL string, logger *slog.Logger) *HTTPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAdapter{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// ExecuteAction delivers one action and normalizes the response.
func (a *HTTPAdapter) ExecuteAction(ctx context.Context, action *SyncAction, authToken string) (*ExecuteResult, error) {
	ep := ResolveEndpoint(action)

	var body io.Reader
	if ep.Body != nil {
		data, err := json.Marshal(ep.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for action %s: %w", action.ID, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, ep.Method, a.BaseURL+ep.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for action %s: %w", action.ID, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s %s: %w", ep.Method, ep.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := &ExecuteResult{Success: true, StatusCode: resp.StatusCode}
		if resp.StatusCode != http.StatusNoContent {
			var ent annosync.Entity
			if err := json.NewDecoder(resp.Body).Decode(&ent); err != nil {
				return nil, fmt.Errorf("failed to decode entity response: %w", err)
			}
			result.ServerEntity = &ent
		}
		return result, nil

	case resp.StatusCode == http.StatusConflict:
		// Conflict body is the current authoritative server row.
		var ent annosync.Entity
		if err := json.NewDecoder(resp.Body).Decode(&ent); err != nil {
			return nil, fmt.Errorf("failed to decode conflict entity: %w", err)
		}
		return &ExecuteResult{
			StatusCode:   http.StatusConflict,
			ServerEntity: &ent,
			Error:        "sync version conflict",
		}, nil

	case resp.StatusCode == http.StatusNotFound && action.ActionType == ActionDelete:
		// The row is already gone; a delete intent is satisfied either way.
		return &ExecuteResult{Success: true, StatusCode: resp.StatusCode}, nil

	default:
		return &ExecuteResult{
			StatusCode: resp.StatusCode,
			Error:      readErrorMessage(resp),
		}, nil
	}
}

// ExecuteBatch delivers actions through the server batch endpoint, chunked
// to at most annosync.MaxBatchSize per call. Results come back keyed by the
// client action id, concatenated across chunks in request order.
func (a *HTTPAdapter) ExecuteBatch(ctx context.Context, actions []*SyncAction, authToken string) ([]annosync.ActionResult, error) {
	var results []annosync.ActionResult

	for start := 0; start < len(actions); start += annosync.MaxBatchSize {
		end := start + annosync.MaxBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		chunk := actions[start:end]

		req := annosync.BatchRequest{Actions: make([]annosync.BatchAction, len(chunk))}
		for i, act := range chunk {
			req.Actions[i] = annosync.BatchAction{
				ID:         act.ID,
				EntityType: string(act.EntityType),
				EntityID:   act.EntityID,
				ActionType: string(act.ActionType),
				Payload:    act.Payload,
			}
		}

		resp, err := a.sendBatchRequest(ctx, &req, authToken)
		if err != nil {
			return results, err
		}
		if len(resp.Results) != len(chunk) {
			return results, fmt.Errorf("result count mismatch: sent %d actions, got %d results", len(chunk), len(resp.Results))
		}
		results = append(results, resp.Results...)
	}

	return results, nil
}

func (a *HTTPAdapter) sendBatchRequest(ctx context.Context, batch *annosync.BatchRequest, authToken string) (*annosync.BatchResponse, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/sync/batch", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch endpoint returned status %d: %s", resp.StatusCode, readErrorMessage(resp))
	}

	var batchResp annosync.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return &batchResp, nil
}

// FetchChangesSince retrieves all entities modified after the watermark,
// for catching up after a long offline period without replaying the local
// queue against a stale baseline.
func (a *HTTPAdapter) FetchChangesSince(ctx context.Context, since time.Time, authToken string) (*annosync.ChangesResponse, error) {
	url := fmt.Sprintf("%s/sync/changes?since=%s", a.BaseURL, since.UTC().Format(time.RFC3339Nano))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create changes request: %w", err)
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send changes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("changes endpoint returned status %d: %s", resp.StatusCode, readErrorMessage(resp))
	}

	var changes annosync.ChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&changes); err != nil {
		return nil, fmt.Errorf("failed to decode changes response: %w", err)
	}
	return &changes, nil
}

// readErrorMessage extracts a human-readable message from an error
// response, falling back to the raw body.
func readErrorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return fmt.Sprintf("server returned status %d", resp.StatusCode)
	}
	var errResp annosync.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return string(data)
}
