// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the SQLite implementation of EntityStore, for embedded and
// single-node deployments. Semantics mirror PgStore; timestamps are stored
// as unix nanoseconds so the catch-up watermark comparison stays exact.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	clock   func() time.Time
	writeMu sync.Mutex // Serialize write transactions to prevent SQLite locking issues
}

// NewSQLiteStore creates a SQLite entity store and initializes its tables.
func NewSQLiteStore(db *sql.DB, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	for _, table := range []string{"annotations", "documents", "folders"} {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id           TEXT PRIMARY KEY,
				user_id      TEXT NOT NULL,
				payload      TEXT NOT NULL,
				sync_version INTEGER NOT NULL DEFAULT 1,
				created_at   INTEGER NOT NULL,
				updated_at   INTEGER NOT NULL
			)`, table)
		if _, err := db.Exec(ddl); err != nil {
			return nil, fmt.Errorf("failed to create table %s: %w", table, err)
		}

		idx := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_user_updated_idx
			ON %s (user_id, updated_at)`, table, table)
		if _, err := db.Exec(idx); err != nil {
			return nil, fmt.Errorf("failed to create index on %s: %w", table, err)
		}
	}

	return &SQLiteStore{db: db, logger: logger, clock: time.Now}, nil
}

// Create inserts a new row; replaying a create for an existing id returns
// the existing row as success.
func (s *SQLiteStore) Create(ctx context.Context, userID, entityType, id string, payload json.RawMessage) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock().UTC()
	q := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, payload, sync_version, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (id) DO NOTHING`, table)
	res, err := s.db.ExecContext(ctx, q, id, userID, string(payload), now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.Get(ctx, userID, entityType, id)
	}
	return &Entity{
		ID:          id,
		Type:        entityType,
		Payload:     payload,
		SyncVersion: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Update applies an optimistic-concurrency update in a single statement.
func (s *SQLiteStore) Update(ctx context.Context, userID, entityType, id string, payload json.RawMessage, expectedVersion *int64) (*UpdateResult, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock().UTC()
	var expected any
	if expectedVersion != nil {
		expected = *expectedVersion
	}
	q := fmt.Sprintf(`
		UPDATE %s
		SET payload = ?, sync_version = sync_version + 1, updated_at = ?
		WHERE id = ? AND user_id = ?
		  AND (? IS NULL OR sync_version = ?)`, table)
	res, err := s.db.ExecContext(ctx, q, string(payload), now.UnixNano(), id, userID, expected, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", entityType, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		// Row gone or stale version - return the authoritative row for conflicts.
		current, getErr := s.Get(ctx, userID, entityType, id)
		if getErr != nil {
			return nil, getErr
		}
		s.logger.Debug("Version conflict on update",
			"entity_type", entityType, "id", id,
			"current_version", current.SyncVersion)
		return &UpdateResult{Entity: current, Conflict: true}, nil
	}

	updated, err := s.Get(ctx, userID, entityType, id)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Entity: updated}, nil
}

// Delete removes a row; deleting an absent row is success with nil entity.
func (s *SQLiteStore) Delete(ctx context.Context, userID, entityType, id string) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.Get(ctx, userID, entityType, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND user_id = ?`, table)
	if _, err := s.db.ExecContext(ctx, q, id, userID); err != nil {
		return nil, fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	return existing, nil
}

// Get loads a single row by id.
func (s *SQLiteStore) Get(ctx context.Context, userID, entityType, id string) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, payload, sync_version, created_at, updated_at
		FROM %s
		WHERE id = ? AND user_id = ?`, table)

	var (
		ent     = Entity{Type: entityType}
		payload string
		created int64
		updated int64
	)
	err = s.db.QueryRowContext(ctx, q, id, userID).
		Scan(&ent.ID, &payload, &ent.SyncVersion, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}
	ent.Payload = json.RawMessage(payload)
	ent.CreatedAt = time.Unix(0, created).UTC()
	ent.UpdatedAt = time.Unix(0, updated).UTC()
	return &ent, nil
}

// ChangesSince returns all rows modified after the watermark.
func (s *SQLiteStore) ChangesSince(ctx context.Context, userID string, since time.Time) (*ChangesResponse, error) {
	resp := &ChangesResponse{
		Annotations: []Entity{},
		Documents:   []Entity{},
		Folders:     []Entity{},
		Since:       since,
	}

	for _, entityType := range []string{EntityAnnotation, EntityDocument, EntityFolder} {
		table, err := tableForEntityType(entityType)
		if err != nil {
			return nil, err
		}

		q := fmt.Sprintf(`
			SELECT id, payload, sync_version, created_at, updated_at
			FROM %s
			WHERE user_id = ? AND updated_at > ?
			ORDER BY updated_at`, table)

		rows, err := s.db.QueryContext(ctx, q, userID, since.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("failed to query %s changes: %w", entityType, err)
		}
		for rows.Next() {
			var (
				ent     = Entity{Type: entityType}
				payload string
				created int64
				updated int64
			)
			if err := rows.Scan(&ent.ID, &payload, &ent.SyncVersion, &created, &updated); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s change: %w", entityType, err)
			}
			ent.Payload = json.RawMessage(payload)
			ent.CreatedAt = time.Unix(0, created).UTC()
			ent.UpdatedAt = time.Unix(0, updated).UTC()
			switch entityType {
			case EntityAnnotation:
				resp.Annotations = append(resp.Annotations, ent)
			case EntityDocument:
				resp.Documents = append(resp.Documents, ent)
			case EntityFolder:
				resp.Folders = append(resp.Folders, ent)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate %s changes: %w", entityType, err)
		}
		rows.Close()
	}

	return resp, nil
}
