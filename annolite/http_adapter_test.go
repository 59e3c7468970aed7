package annolite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-annosync/annosync"
)

func TestHTTPAdapterExecuteActionSuccess(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(annosync.Entity{
			ID:          "a1",
			Type:        annosync.EntityAnnotation,
			Payload:     []byte(`{"text":"hi"}`),
			SyncVersion: 2,
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, nil)
	result, err := adapter.ExecuteAction(context.Background(), &SyncAction{
		ID:         "act-1",
		EntityType: EntityAnnotation,
		EntityID:   "a1",
		ActionType: ActionUpdate,
		Payload:    map[string]any{"text": "hi"},
	}, "tok-123")
	require.NoError(t, err)

	require.Equal(t, "Bearer tok-123", gotAuth)
	require.Equal(t, http.MethodPatch, gotMethod)
	require.Equal(t, "/annotations/a1", gotPath)
	require.Equal(t, map[string]any{"text": "hi"}, gotBody)

	require.True(t, result.Success)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.NotNil(t, result.ServerEntity)
	require.Equal(t, int64(2), result.ServerEntity.SyncVersion)
}

func TestHTTPAdapterExecuteActionConflictCarriesServerEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(annosync.Entity{
			ID:          "a1",
			Type:        annosync.EntityAnnotation,
			Payload:     []byte(`{"text":"server"}`),
			SyncVersion: 9,
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, nil)
	result, err := adapter.ExecuteAction(context.Background(), &SyncAction{
		ID:         "act-1",
		EntityType: EntityAnnotation,
		EntityID:   "a1",
		ActionType: ActionUpdate,
		Payload:    map[string]any{"text": "mine", "sync_version": 3},
	}, "tok")
	require.NoError(t, err)

	require.False(t, result.Success)
	require.Equal(t, http.StatusConflict, result.StatusCode)
	require.NotNil(t, result.ServerEntity)
	require.Equal(t, int64(9), result.ServerEntity.SyncVersion)
	require.NotEmpty(t, result.Error)
}

func TestHTTPAdapterDeleteOfMissingEntitySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, nil)
	result, err := adapter.ExecuteAction(context.Background(), &SyncAction{
		ID:         "act-1",
		EntityType: EntityFolder,
		EntityID:   "f1",
		ActionType: ActionDelete,
	}, "tok")
	require.NoError(t, err)
	require.True(t, result.Success)
}

func TestHTTPAdapterServerErrorBecomesStructuredFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(annosync.ErrorResponse{
			Error:   "internal",
			Message: "database unavailable",
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, nil)
	result, err := adapter.ExecuteAction(context.Background(), &SyncAction{
		ID:         "act-1",
		EntityType: EntityDocument,
		EntityID:   "d1",
		ActionType: ActionUpdate,
		Payload:    map[string]any{"title": "x"},
	}, "tok")
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.Equal(t, "database unavailable", result.Error)
}

func TestHTTPAdapterTransportErrorReturnsGoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed server refuses connections

	adapter := NewHTTPAdapter(srv.URL, nil)
	result, err := adapter.ExecuteAction(context.Background(), &SyncAction{
		ID:         "act-1",
		EntityType: EntityAnnotation,
		EntityID:   "a1",
		ActionType: ActionDelete,
	}, "tok")
	require.Error(t, err)
	require.Nil(t, result)
}

func TestHTTPAdapterExecuteBatchChunksLargeQueues(t *testing.T) {
	var batchSizes []int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/batch", r.URL.Path)

		var req annosync.BatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Actions))

		resp := annosync.BatchResponse{Results: make([]annosync.ActionResult, len(req.Actions))}
		for i, act := range req.Actions {
			resp.Results[i] = annosync.ActionResult{ID: act.ID, Success: true, StatusCode: http.StatusOK}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	actions := make([]*SyncAction, annosync.MaxBatchSize+20)
	for i := range actions {
		actions[i] = &SyncAction{
			ID:         fmt.Sprintf("act-%d", i),
			EntityType: EntityAnnotation,
			EntityID:   fmt.Sprintf("a-%d", i),
			ActionType: ActionUpdate,
			Payload:    map[string]any{"n": i},
		}
	}

	adapter := NewHTTPAdapter(srv.URL, nil)
	results, err := adapter.ExecuteBatch(context.Background(), actions, "tok")
	require.NoError(t, err)
	require.Len(t, results, len(actions))
	require.Equal(t, []int{annosync.MaxBatchSize, 20}, batchSizes)

	// Results line up with request order across chunk boundaries.
	for i, res := range results {
		require.Equal(t, actions[i].ID, res.ID)
		require.True(t, res.Success)
	}
}

func TestHTTPAdapterFetchChangesSince(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync/changes", r.URL.Path)
		require.Equal(t, since.Format(time.RFC3339Nano), r.URL.Query().Get("since"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(annosync.ChangesResponse{
			Annotations: []annosync.Entity{{ID: "a1", Type: annosync.EntityAnnotation, SyncVersion: 4}},
			Since:       since,
		})
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(srv.URL, nil)
	changes, err := adapter.FetchChangesSince(context.Background(), since, "tok")
	require.NoError(t, err)
	require.Len(t, changes.Annotations, 1)
	require.Equal(t, "a1", changes.Annotations[0].ID)
	require.Empty(t, changes.Documents)
	require.Empty(t, changes.Folders)
}
