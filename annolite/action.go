// Package annolite provides the offline-first client engine for go-annosync:
// a durable queue of local mutations, a flush/retry state machine, and the
// adapters (persistence, network, API transport) the engine drives.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"fmt"
	"time"

	"github.com/mobiletoly/go-annosync/annosync"
)

// EntityType identifies the kind of entity a queued action targets.
type EntityType string

// Syncable entity types. Wire values are shared with the server package.
const (
	EntityAnnotation EntityType = annosync.EntityAnnotation
	EntityDocument   EntityType = annosync.EntityDocument
	EntityFolder     EntityType = annosync.EntityFolder
)

// ActionType identifies the mutation a queued action performs.
type ActionType string

// Supported mutation types.
const (
	ActionCreate ActionType = annosync.ActionCreate
	ActionUpdate ActionType = annosync.ActionUpdate
	ActionDelete ActionType = annosync.ActionDelete
)

// ActionStatus tracks an action through the delivery state machine.
type ActionStatus string

const (
	// StatusPending marks an action waiting for the next flush pass.
	StatusPending ActionStatus = "pending"
	// StatusInFlight marks an action claimed by an active flush pass.
	StatusInFlight ActionStatus = "in_flight"
	// StatusFailed marks an action frozen after exhausting its retries.
	// Failed actions stay in the queue for diagnostics and are never
	// retried automatically.
	StatusFailed ActionStatus = "failed"
)

// SyncAction is a durable intent to mutate one entity. Retries redeliver
// the same action id, so the server can replay it idempotently.
type SyncAction struct {
	ID         string         `json:"id"`
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"` // empty only for create
	ActionType ActionType     `json:"action_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"ts"` // enqueue time, ordering hint only
	Status     ActionStatus   `json:"status"`
	RetryCount int            `json:"retry_count"`
	Error      string         `json:"error,omitempty"` // last delivery error
}

// validateAction rejects malformed actions before they are persisted.
func validateAction(entityType EntityType, entityID string, actionType ActionType) error {
	switch entityType {
	case EntityAnnotation, EntityDocument, EntityFolder:
	default:
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	switch actionType {
	case ActionCreate:
		// Create may omit the entity id; the server assigns one.
	case ActionUpdate, ActionDelete:
		if entityID == "" {
			return fmt.Errorf("entity id required for %s", actionType)
		}
	default:
		return fmt.Errorf("unknown action type %q", actionType)
	}
	return nil
}
