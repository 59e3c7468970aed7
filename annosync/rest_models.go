// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"encoding/json"
	"time"
)

// REST/JSON models for HTTP API requests and responses

// Entity is a versioned server row for an annotation, document or folder.
// SyncVersion starts at 1 on create and is incremented by exactly 1 on
// every accepted update; it is the sole conflict-detection signal.
type Entity struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`    // annotation, document, folder
	Payload     json.RawMessage `json:"payload"` // whole-entity JSON body
	SyncVersion int64           `json:"sync_version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BatchAction represents a single queued client mutation in a batch request.
// ID is the client-side action id and is echoed back in the matching result.
type BatchAction struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"` // empty only for create
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// BatchRequest represents a batch upload of queued actions (up to MaxBatchSize).
type BatchRequest struct {
	Actions []BatchAction `json:"actions"`
}

// ActionResult is the per-action outcome, keyed by the client action id.
// StatusCode 409 implies Entity is the current authoritative server row.
type ActionResult struct {
	ID         string  `json:"id"`
	Success    bool    `json:"success"`
	Entity     *Entity `json:"entity,omitempty"`
	Error      string  `json:"error,omitempty"`
	StatusCode int     `json:"status_code,omitempty"`
}

// BatchResponse carries one result per submitted action, in request order.
type BatchResponse struct {
	Results []ActionResult `json:"results"`
}

// ChangesResponse is the catch-up response: all entities modified after
// the requested watermark, grouped by entity type.
type ChangesResponse struct {
	Annotations []Entity  `json:"annotations"`
	Documents   []Entity  `json:"documents"`
	Folders     []Entity  `json:"folders"`
	Since       time.Time `json:"since"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusResponse represents service status response
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	AppName string `json:"app_name"`
}
