// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Storage errors callers are expected to branch on.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// UpdateResult is the outcome of an optimistic-concurrency update.
// On Conflict, Entity is the current authoritative row and the incoming
// payload has not been applied.
type UpdateResult struct {
	Entity   *Entity
	Conflict bool
}

// EntityStore is the server-side versioned row store for annotations,
// documents and folders. Implementations must keep the sync_version
// counter authoritative: base 1 at create, +1 per accepted update.
type EntityStore interface {
	// Create inserts a new row. When id is empty the store assigns one.
	// Replaying a create with an id that already exists returns the
	// existing row as success (idempotent replay).
	Create(ctx context.Context, userID, entityType, id string, payload json.RawMessage) (*Entity, error)

	// Update replaces the payload of an existing row. When expectedVersion
	// is non-nil and differs from the row's current sync_version, the
	// update is rejected and the current row is returned as a conflict.
	Update(ctx context.Context, userID, entityType, id string, payload json.RawMessage, expectedVersion *int64) (*UpdateResult, error)

	// Delete removes a row. Deleting an absent row is success with a nil
	// entity; the client cannot distinguish "already deleted elsewhere"
	// from "never created", and either is a valid terminal state.
	Delete(ctx context.Context, userID, entityType, id string) (*Entity, error)

	// Get loads a single row or ErrNotFound.
	Get(ctx context.Context, userID, entityType, id string) (*Entity, error)

	// ChangesSince returns all rows modified after the watermark, for
	// catching up after long offline periods.
	ChangesSince(ctx context.Context, userID string, since time.Time) (*ChangesResponse, error)
}

// tableForEntityType maps an entity type to its backing table name.
func tableForEntityType(entityType string) (string, error) {
	switch entityType {
	case EntityAnnotation:
		return "annotations", nil
	case EntityDocument:
		return "documents", nil
	case EntityFolder:
		return "folders", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
}

// splitVersion extracts the client-observed sync version from an action
// payload and returns the payload with the version key stripped. The
// stored payload never carries the (stale) observed version.
func splitVersion(payload map[string]any) (json.RawMessage, *int64, error) {
	var expected *int64
	if raw, ok := payload[VersionKey]; ok {
		switch v := raw.(type) {
		case float64:
			n := int64(v)
			expected = &n
		case int64:
			n := v
			expected = &n
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, nil, fmt.Errorf("invalid %s value %q: %w", VersionKey, v.String(), err)
			}
			expected = &n
		default:
			return nil, nil, fmt.Errorf("invalid %s value of type %T", VersionKey, raw)
		}
		stripped := make(map[string]any, len(payload))
		for k, val := range payload {
			if k != VersionKey {
				stripped[k] = val
			}
		}
		payload = stripped
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return body, expected, nil
}
