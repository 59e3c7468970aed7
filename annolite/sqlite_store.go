// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the SQLite-backed PersistenceAdapter. Actions survive
// process restarts; the queue order is recovered by enqueue timestamp with
// rowid as the tiebreaker, so reload preserves FIFO insertion order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the persistence adapter and its backing table.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _pending_sync_actions (
			id          TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			action_type TEXT NOT NULL CHECK (action_type IN ('create','update','delete')),
			payload     TEXT,
			ts          INTEGER NOT NULL,
			status      TEXT NOT NULL CHECK (status IN ('pending','in_flight','failed')),
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error  TEXT NOT NULL DEFAULT ''
		)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending actions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// LoadPendingActions returns all stored actions in enqueue order.
func (s *SQLiteStore) LoadPendingActions(ctx context.Context) ([]*SyncAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_type, entity_id, action_type, payload, ts, status, retry_count, last_error
		FROM _pending_sync_actions
		ORDER BY ts, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending actions: %w", err)
	}
	defer rows.Close()

	var actions []*SyncAction
	for rows.Next() {
		var (
			a       SyncAction
			payload sql.NullString
			ts      int64
		)
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.ActionType, &payload, &ts, &a.Status, &a.RetryCount, &a.Error); err != nil {
			return nil, fmt.Errorf("failed to scan pending action: %w", err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &a.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload for action %s: %w", a.ID, err)
			}
		}
		a.Timestamp = time.Unix(0, ts).UTC()
		actions = append(actions, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending actions: %w", err)
	}
	return actions, nil
}

// SavePendingAction upserts one action with its full state.
func (s *SQLiteStore) SavePendingAction(ctx context.Context, action *SyncAction) error {
	var payload any
	if action.Payload != nil {
		data, err := json.Marshal(action.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for action %s: %w", action.ID, err)
		}
		payload = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _pending_sync_actions (id, entity_type, entity_id, action_type, payload, ts, status, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			payload = excluded.payload,
			status = excluded.status,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error`,
		action.ID, action.EntityType, action.EntityID, action.ActionType,
		payload, action.Timestamp.UnixNano(), action.Status, action.RetryCount, action.Error)
	if err != nil {
		return fmt.Errorf("failed to save action %s: %w", action.ID, err)
	}
	return nil
}

// UpdateActionStatus persists the delivery state of one action.
func (s *SQLiteStore) UpdateActionStatus(ctx context.Context, id string, status ActionStatus, retryCount int, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE _pending_sync_actions
		SET status = ?, retry_count = ?, last_error = ?
		WHERE id = ?`,
		status, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("action %s not found", id)
	}
	return nil
}

// RemoveAction deletes one action; removing an absent action is a no-op.
func (s *SQLiteStore) RemoveAction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _pending_sync_actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove action %s: %w", id, err)
	}
	return nil
}

// ClearAll empties the durable queue.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _pending_sync_actions`); err != nil {
		return fmt.Errorf("failed to clear pending actions: %w", err)
	}
	return nil
}
