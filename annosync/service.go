// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServiceConfig holds configuration for the sync service
type ServiceConfig struct {
	AppName      string // Application name reported on the status endpoint
	MaxBatchSize int    // Maximum number of actions per batch call (0 = MaxBatchSize default)
}

// SyncService applies client sync actions to the entity store and resolves
// version conflicts. This is the main server-side component that developers
// integrate into their applications.
type SyncService struct {
	store  EntityStore
	config *ServiceConfig
	logger *slog.Logger
}

// NewSyncService creates a new sync service on top of an entity store.
func NewSyncService(store EntityStore, config *ServiceConfig, logger *slog.Logger) *SyncService {
	if config == nil {
		config = &ServiceConfig{AppName: "go-annosync-app"}
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = MaxBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{store: store, config: config, logger: logger}
}

// Config returns the effective service configuration.
func (s *SyncService) Config() *ServiceConfig {
	return s.config
}

// ProcessBatch applies a batch of actions and returns one result per action,
// keyed by the client action id and in request order. Oversized batches are
// rejected whole so clients never drop part of their queue.
func (s *SyncService) ProcessBatch(ctx context.Context, userID string, req *BatchRequest) (*BatchResponse, error) {
	if len(req.Actions) == 0 {
		return &BatchResponse{Results: []ActionResult{}}, nil
	}

	if len(req.Actions) > s.config.MaxBatchSize {
		results := make([]ActionResult, len(req.Actions))
		for i, act := range req.Actions {
			results[i] = ActionResult{
				ID:         act.ID,
				Success:    false,
				Error:      fmt.Sprintf("batch too large: actions=%d limit=%d", len(req.Actions), s.config.MaxBatchSize),
				StatusCode: http.StatusRequestEntityTooLarge,
			}
		}
		return &BatchResponse{Results: results}, nil
	}

	s.logger.Info("Processing action batch", "count", len(req.Actions), "user_id", userID)

	results := make([]ActionResult, len(req.Actions))
	for i := range req.Actions {
		results[i] = s.ApplyAction(ctx, userID, &req.Actions[i])
	}
	return &BatchResponse{Results: results}, nil
}

// ApplyAction applies a single action and normalizes the outcome into an
// ActionResult. Version conflicts are not errors: the result carries
// StatusCode 409 and the current authoritative row.
func (s *SyncService) ApplyAction(ctx context.Context, userID string, act *BatchAction) ActionResult {
	if err := validateAction(act); err != nil {
		s.logger.Warn("Rejected invalid action",
			"user_id", userID, "action_id", act.ID,
			"entity_type", act.EntityType, "action_type", act.ActionType,
			"error", err)
		return ActionResult{ID: act.ID, Error: err.Error(), StatusCode: http.StatusBadRequest}
	}

	switch act.ActionType {
	case ActionCreate:
		return s.applyCreate(ctx, userID, act)
	case ActionUpdate:
		return s.applyUpdate(ctx, userID, act)
	case ActionDelete:
		return s.applyDelete(ctx, userID, act)
	default:
		// validateAction rejects unknown action types before this point
		return ActionResult{ID: act.ID, Error: fmt.Sprintf("unsupported action type %q", act.ActionType), StatusCode: http.StatusBadRequest}
	}
}

func (s *SyncService) applyCreate(ctx context.Context, userID string, act *BatchAction) ActionResult {
	// Creates never carry a meaningful observed version; strip it if present.
	payload, _, err := splitVersion(act.Payload)
	if err != nil {
		return ActionResult{ID: act.ID, Error: err.Error(), StatusCode: http.StatusBadRequest}
	}

	ent, err := s.store.Create(ctx, userID, act.EntityType, act.EntityID, payload)
	if err != nil {
		return s.internalFailure(act, "create", err)
	}
	return ActionResult{ID: act.ID, Success: true, Entity: ent, StatusCode: http.StatusCreated}
}

func (s *SyncService) applyUpdate(ctx context.Context, userID string, act *BatchAction) ActionResult {
	payload, expected, err := splitVersion(act.Payload)
	if err != nil {
		return ActionResult{ID: act.ID, Error: err.Error(), StatusCode: http.StatusBadRequest}
	}

	res, err := s.store.Update(ctx, userID, act.EntityType, act.EntityID, payload, expected)
	if errors.Is(err, ErrNotFound) {
		return ActionResult{ID: act.ID, Error: "entity not found", StatusCode: http.StatusNotFound}
	}
	if err != nil {
		return s.internalFailure(act, "update", err)
	}
	if res.Conflict {
		return ActionResult{
			ID:         act.ID,
			Success:    false,
			Entity:     res.Entity,
			Error:      "sync version conflict",
			StatusCode: http.StatusConflict,
		}
	}
	return ActionResult{ID: act.ID, Success: true, Entity: res.Entity, StatusCode: http.StatusOK}
}

func (s *SyncService) applyDelete(ctx context.Context, userID string, act *BatchAction) ActionResult {
	ent, err := s.store.Delete(ctx, userID, act.EntityType, act.EntityID)
	if err != nil {
		return s.internalFailure(act, "delete", err)
	}
	// ent == nil means the row was already absent; still a successful delete.
	return ActionResult{ID: act.ID, Success: true, Entity: ent, StatusCode: http.StatusOK}
}

func (s *SyncService) internalFailure(act *BatchAction, op string, err error) ActionResult {
	s.logger.Error("Failed to apply action",
		"action_id", act.ID, "op", op,
		"entity_type", act.EntityType, "entity_id", act.EntityID,
		"error", err)
	return ActionResult{ID: act.ID, Error: fmt.Sprintf("failed to %s entity", op), StatusCode: http.StatusInternalServerError}
}

// ChangesSince returns all entities modified after the watermark.
func (s *SyncService) ChangesSince(ctx context.Context, userID string, since time.Time) (*ChangesResponse, error) {
	return s.store.ChangesSince(ctx, userID, since)
}

// validateAction rejects malformed actions before they reach the store.
func validateAction(act *BatchAction) error {
	switch act.EntityType {
	case EntityAnnotation, EntityDocument, EntityFolder:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, act.EntityType)
	}
	switch act.ActionType {
	case ActionCreate:
		// Empty entity id is permitted only for create; the server assigns one.
	case ActionUpdate, ActionDelete:
		if act.EntityID == "" {
			return fmt.Errorf("entity id required for %s", act.ActionType)
		}
	default:
		return fmt.Errorf("unsupported action type %q", act.ActionType)
	}
	return nil
}
