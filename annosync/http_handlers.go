// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mobiletoly/go-annosync/internal/auth"
)

// HTTPSyncHandlers provides the HTTP surface for the sync API: per-entity
// REST endpoints (the shapes the client endpoint router targets), the batch
// endpoint, and the catch-up endpoint.
type HTTPSyncHandlers struct {
	service       *SyncService
	authenticator ClientAuthenticator
	logger        *slog.Logger
}

// NewHTTPSyncHandlers creates a new instance of sync handlers
func NewHTTPSyncHandlers(service *SyncService, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPSyncHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSyncHandlers{
		service:       service,
		authenticator: authenticator,
		logger:        logger,
	}
}

// Routes mounts all sync endpoints behind the auth middleware.
func (h *HTTPSyncHandlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requireAuth)

	entityRoutes := []struct {
		prefix     string
		entityType string
	}{
		{"/annotations", EntityAnnotation},
		{"/documents", EntityDocument},
		{"/folders", EntityFolder},
	}
	for _, er := range entityRoutes {
		r.Post(er.prefix, h.createHandler(er.entityType))
		r.Get(er.prefix+"/{id}", h.getHandler(er.entityType))
		r.Patch(er.prefix+"/{id}", h.updateHandler(er.entityType))
		r.Delete(er.prefix+"/{id}", h.deleteHandler(er.entityType))
	}

	r.Post("/sync/batch", h.HandleBatch)
	r.Get("/sync/changes", h.HandleChanges)
	r.Get("/status", h.HandleStatus)
	return r
}

// requireAuth validates the bearer token once per request and stashes the
// caller identity in the request context for handlers to read.
func (h *HTTPSyncHandlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.authenticator.GetUserID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		deviceID, err := h.authenticator.GetDeviceID(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		ctx := auth.SetAuthContext(r.Context(), userID, deviceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleBatch processes a batch of queued client actions.
func (h *HTTPSyncHandlers) HandleBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "missing user identity")
		return
	}

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse batch request")
		return
	}

	resp, err := h.service.ProcessBatch(r.Context(), userID, &req)
	if err != nil {
		deviceID, _ := auth.GetDeviceID(r.Context())
		h.logger.Error("Failed to process batch", "error", err, "device_id", deviceID)
		h.writeError(w, http.StatusInternalServerError, "batch_failed", "Failed to process batch")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleChanges processes catch-up requests: all entities modified after
// the `since` watermark.
func (h *HTTPSyncHandlers) HandleChanges(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "missing user identity")
		return
	}

	sinceParam := r.URL.Query().Get("since")
	if sinceParam == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "since parameter is required")
		return
	}
	since, err := time.Parse(time.RFC3339Nano, sinceParam)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "since must be an RFC3339 timestamp")
		return
	}

	resp, err := h.service.ChangesSince(r.Context(), userID, since)
	if err != nil {
		h.logger.Error("Failed to load changes", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "changes_failed", "Failed to load changes")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleStatus reports service health metadata.
func (h *HTTPSyncHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, &StatusResponse{
		Status:  "healthy",
		Version: "1",
		AppName: h.service.Config().AppName,
	})
}

func (h *HTTPSyncHandlers) createHandler(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.applySingle(w, r, BatchAction{
			EntityType: entityType,
			ActionType: ActionCreate,
		})
	}
}

func (h *HTTPSyncHandlers) updateHandler(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.applySingle(w, r, BatchAction{
			EntityType: entityType,
			EntityID:   chi.URLParam(r, "id"),
			ActionType: ActionUpdate,
		})
	}
}

func (h *HTTPSyncHandlers) deleteHandler(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.applySingle(w, r, BatchAction{
			EntityType: entityType,
			EntityID:   chi.URLParam(r, "id"),
			ActionType: ActionDelete,
		})
	}
}

func (h *HTTPSyncHandlers) getHandler(entityType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.GetUserID(r.Context())
		if !ok {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", "missing user identity")
			return
		}
		ent, err := h.service.store.Get(r.Context(), userID, entityType, chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "entity not found")
			return
		}
		if err != nil {
			h.logger.Error("Failed to load entity", "error", err, "entity_type", entityType)
			h.writeError(w, http.StatusInternalServerError, "load_failed", "Failed to load entity")
			return
		}
		h.writeJSON(w, http.StatusOK, ent)
	}
}

// applySingle runs one action through the service and maps the result onto
// the single-entity REST wire shape:
//   - success with entity: entity JSON at the result status code
//   - success without entity (delete of absent row): 204, no body
//   - conflict: 409 with the authoritative entity JSON as body
//   - anything else: ErrorResponse at the result status code
func (h *HTTPSyncHandlers) applySingle(w http.ResponseWriter, r *http.Request, act BatchAction) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "authentication_failed", "missing user identity")
		return
	}

	if act.ActionType != ActionDelete {
		if err := json.NewDecoder(r.Body).Decode(&act.Payload); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse entity payload")
			return
		}
	}
	if act.ActionType == ActionCreate {
		// Clients may assign the id up front so offline edits can reference
		// rows the server has not seen yet.
		if id, ok := act.Payload["id"].(string); ok && id != "" {
			act.EntityID = id
			delete(act.Payload, "id")
		}
	}

	result := h.service.ApplyAction(r.Context(), userID, &act)
	switch {
	case result.Success && result.Entity != nil:
		h.writeJSON(w, result.StatusCode, result.Entity)
	case result.Success:
		w.WriteHeader(http.StatusNoContent)
	case result.StatusCode == http.StatusConflict && result.Entity != nil:
		h.writeJSON(w, http.StatusConflict, result.Entity)
	default:
		h.writeError(w, result.StatusCode, "action_failed", result.Error)
	}
}

func (h *HTTPSyncHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPSyncHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, &ErrorResponse{Error: code, Message: message})
}
