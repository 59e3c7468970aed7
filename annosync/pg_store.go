// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the PostgreSQL implementation of EntityStore, backed by a
// pgxpool. Rows live in the annosync schema, one table per entity type.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates a Postgres entity store and initializes its schema.
// The caller owns the pool lifecycle.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) (*PgStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PgStore{pool: pool, logger: logger}

	ctx := context.Background()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize entity store schema: %w", err)
	}
	logger.Debug("Entity store schema initialized")
	return s, nil
}

func (s *PgStore) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS annosync`); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	for _, table := range []string{"annotations", "documents", "folders"} {
		ddl := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS annosync.%s (
				id           uuid PRIMARY KEY,
				user_id      text NOT NULL,
				payload      jsonb NOT NULL,
				sync_version bigint NOT NULL DEFAULT 1,
				created_at   timestamptz NOT NULL DEFAULT now(),
				updated_at   timestamptz NOT NULL DEFAULT now()
			)`, table)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}

		idx := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s_user_updated_idx
			ON annosync.%s (user_id, updated_at)`, table, table)
		if _, err := tx.Exec(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", table, err)
		}
	}
	return nil
}

// Create inserts a new row; replays of an already-applied create return the
// existing row so clients can safely redeliver the same action id.
func (s *PgStore) Create(ctx context.Context, userID, entityType, id string, payload json.RawMessage) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.New().String()
	}

	q := fmt.Sprintf(`
		INSERT INTO annosync.%s (id, user_id, payload)
		VALUES (@id, @user_id, @payload)
		ON CONFLICT (id) DO NOTHING
		RETURNING id::text, payload, sync_version, created_at, updated_at`, table)

	ent := Entity{Type: entityType}
	err = s.pool.QueryRow(ctx, q, pgx.NamedArgs{
		"id":      id,
		"user_id": userID,
		"payload": payload,
	}).Scan(&ent.ID, &ent.Payload, &ent.SyncVersion, &ent.CreatedAt, &ent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row already exists - idempotent replay of an earlier create.
		return s.Get(ctx, userID, entityType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	return &ent, nil
}

// Update applies an optimistic-concurrency update. The version check and
// increment happen in a single statement so concurrent writers cannot
// both pass the check.
func (s *PgStore) Update(ctx context.Context, userID, entityType, id string, payload json.RawMessage, expectedVersion *int64) (*UpdateResult, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		UPDATE annosync.%s
		SET payload = @payload, sync_version = sync_version + 1, updated_at = now()
		WHERE id = @id AND user_id = @user_id
		  AND (@expected::bigint IS NULL OR sync_version = @expected)
		RETURNING id::text, payload, sync_version, created_at, updated_at`, table)

	ent := Entity{Type: entityType}
	err = s.pool.QueryRow(ctx, q, pgx.NamedArgs{
		"id":       id,
		"user_id":  userID,
		"payload":  payload,
		"expected": expectedVersion,
	}).Scan(&ent.ID, &ent.Payload, &ent.SyncVersion, &ent.CreatedAt, &ent.UpdatedAt)
	if err == nil {
		return &UpdateResult{Entity: &ent}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update %s %s: %w", entityType, id, err)
	}

	// No row matched: either the row is gone or the version check failed.
	current, getErr := s.Get(ctx, userID, entityType, id)
	if getErr != nil {
		return nil, getErr
	}
	s.logger.Debug("Version conflict on update",
		"entity_type", entityType, "id", id,
		"current_version", current.SyncVersion)
	return &UpdateResult{Entity: current, Conflict: true}, nil
}

// Delete removes a row. Absent rows are reported as success with nil entity.
func (s *PgStore) Delete(ctx context.Context, userID, entityType, id string) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		DELETE FROM annosync.%s
		WHERE id = @id AND user_id = @user_id
		RETURNING id::text, payload, sync_version, created_at, updated_at`, table)

	ent := Entity{Type: entityType}
	err = s.pool.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "user_id": userID}).
		Scan(&ent.ID, &ent.Payload, &ent.SyncVersion, &ent.CreatedAt, &ent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
	}
	return &ent, nil
}

// Get loads a single row by id.
func (s *PgStore) Get(ctx context.Context, userID, entityType, id string) (*Entity, error) {
	table, err := tableForEntityType(entityType)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id::text, payload, sync_version, created_at, updated_at
		FROM annosync.%s
		WHERE id = @id AND user_id = @user_id`, table)

	ent := Entity{Type: entityType}
	err = s.pool.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "user_id": userID}).
		Scan(&ent.ID, &ent.Payload, &ent.SyncVersion, &ent.CreatedAt, &ent.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", entityType, id, err)
	}
	return &ent, nil
}

// ChangesSince returns all rows modified after the watermark.
func (s *PgStore) ChangesSince(ctx context.Context, userID string, since time.Time) (*ChangesResponse, error) {
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
			SELECT id::text, payload, sync_version, created_at, updated_at
			FROM annosync.%s
			WHERE user_id = @user_id AND updated_at > @since
			ORDER BY updated_at`, table)

		rows, err := s.pool.Query(ctx, q, pgx.NamedArgs{"user_id": userID, "since": since})
		if err != nil {
			return nil, fmt.Errorf("failed to query %s changes: %w", entityType, err)
		}
		for rows.Next() {
			ent := Entity{Type: entityType}
			if err := rows.Scan(&ent.ID, &ent.Payload, &ent.SyncVersion, &ent.CreatedAt, &ent.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s change: %w", entityType, err)
			}
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
