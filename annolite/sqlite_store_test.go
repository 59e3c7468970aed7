package annolite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreRoundTripPreservesOrder(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	saved := []*SyncAction{
		{ID: "a", EntityType: EntityAnnotation, EntityID: "e1", ActionType: ActionCreate,
			Payload: map[string]any{"text": "first"}, Timestamp: base, Status: StatusPending},
		{ID: "b", EntityType: EntityDocument, EntityID: "e2", ActionType: ActionUpdate,
			Payload: map[string]any{"title": "second"}, Timestamp: base.Add(time.Millisecond), Status: StatusPending},
		{ID: "c", EntityType: EntityFolder, EntityID: "e3", ActionType: ActionDelete,
			Timestamp: base.Add(2 * time.Millisecond), Status: StatusInFlight, RetryCount: 1, Error: "timeout"},
	}
	for _, a := range saved {
		require.NoError(t, store.SavePendingAction(ctx, a))
	}

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, want := range saved {
		got := loaded[i]
		require.Equal(t, want.ID, got.ID)
		require.Equal(t, want.EntityType, got.EntityType)
		require.Equal(t, want.EntityID, got.EntityID)
		require.Equal(t, want.ActionType, got.ActionType)
		require.Equal(t, want.Payload, got.Payload)
		require.Equal(t, want.Status, got.Status)
		require.Equal(t, want.RetryCount, got.RetryCount)
		require.Equal(t, want.Error, got.Error)
		require.True(t, want.Timestamp.Equal(got.Timestamp))
	}
}

func TestSQLiteStoreEqualTimestampsFallBackToInsertionOrder(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	ts := time.Now().UTC()
	for _, id := range []string{"x", "y", "z"} {
		require.NoError(t, store.SavePendingAction(ctx, &SyncAction{
			ID: id, EntityType: EntityAnnotation, EntityID: id,
			ActionType: ActionUpdate, Timestamp: ts, Status: StatusPending,
		}))
	}

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	require.Equal(t, "x", loaded[0].ID)
	require.Equal(t, "y", loaded[1].ID)
	require.Equal(t, "z", loaded[2].ID)
}

func TestSQLiteStoreSaveUpsertsExistingAction(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	action := &SyncAction{
		ID: "a", EntityType: EntityAnnotation, EntityID: "e1",
		ActionType: ActionUpdate, Payload: map[string]any{"text": "v1"},
		Timestamp: time.Now(), Status: StatusPending,
	}
	require.NoError(t, store.SavePendingAction(ctx, action))

	action.Payload = map[string]any{"text": "v2"}
	action.Status = StatusFailed
	action.RetryCount = 3
	action.Error = "gave up"
	require.NoError(t, store.SavePendingAction(ctx, action))

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, map[string]any{"text": "v2"}, loaded[0].Payload)
	require.Equal(t, StatusFailed, loaded[0].Status)
	require.Equal(t, 3, loaded[0].RetryCount)
	require.Equal(t, "gave up", loaded[0].Error)
}

func TestSQLiteStoreUpdateActionStatus(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePendingAction(ctx, &SyncAction{
		ID: "a", EntityType: EntityDocument, EntityID: "e1",
		ActionType: ActionUpdate, Timestamp: time.Now(), Status: StatusPending,
	}))

	require.NoError(t, store.UpdateActionStatus(ctx, "a", StatusInFlight, 2, "retrying"))

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusInFlight, loaded[0].Status)
	require.Equal(t, 2, loaded[0].RetryCount)
	require.Equal(t, "retrying", loaded[0].Error)

	require.Error(t, store.UpdateActionStatus(ctx, "missing", StatusPending, 0, ""))
}

func TestSQLiteStoreRemoveAndClear(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, store.SavePendingAction(ctx, &SyncAction{
			ID: id, EntityType: EntityFolder, EntityID: id,
			ActionType: ActionDelete, Timestamp: time.Now(), Status: StatusPending,
		}))
	}

	require.NoError(t, store.RemoveAction(ctx, "a"))
	// Removing an absent action is a no-op.
	require.NoError(t, store.RemoveAction(ctx, "a"))

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "b", loaded[0].ID)

	require.NoError(t, store.ClearAll(ctx))
	loaded, err = store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestSQLiteStoreNilPayloadSurvivesReload(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePendingAction(ctx, &SyncAction{
		ID: "a", EntityType: EntityAnnotation, EntityID: "e1",
		ActionType: ActionDelete, Timestamp: time.Now(), Status: StatusPending,
	}))

	loaded, err := store.LoadPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Nil(t, loaded[0].Payload)
}
