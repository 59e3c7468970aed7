// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-annosync/annosync"
)

// EngineStatus is the engine's user-visible sync state.
type EngineStatus string

const (
	EngineIdle    EngineStatus = "idle"
	EngineSyncing EngineStatus = "syncing"
	EngineError   EngineStatus = "error"
	EngineOffline EngineStatus = "offline"
)

// RemoteChange notifies the application that conflict resolution replaced a
// local pending write with the server's authoritative entity. The engine
// never touches UI state directly.
type RemoteChange struct {
	EntityType EntityType
	Entity     *annosync.Entity
}

// Config holds retry policy for the sync engine.
type Config struct {
	MaxRetries     int           // delivery attempts before an action is frozen as failed
	BaseRetryDelay time.Duration // backoff base; RetryDelay doubles it per attempt
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     3,
		BaseRetryDelay: 1 * time.Second,
	}
}

// Engine owns the in-memory action queue and the flush/retry state machine.
// All adapters are injected at construction; the engine holds no package
// state, so multiple engines (per store, or under test) run in isolation.
//
// The engine mutates the queue only in EnqueueAction, FlushQueue, SetOnline
// and LoadPersistedQueue, and delivers actions strictly sequentially within
// a flush pass to preserve per-entity ordering against the server's version
// check.
type Engine struct {
	store   PersistenceAdapter
	api     APIAdapter
	network NetworkMonitor
	config  *Config
	logger  *slog.Logger
	clock   func() time.Time

	mu           sync.Mutex
	queue        []*SyncAction
	online       bool
	status       EngineStatus
	syncing      bool
	lastSyncedAt time.Time // zero value means never synced

	onRemoteChange func(RemoteChange)
	unsubscribe    func()
}

// NewEngine creates a sync engine wired to the given adapters. The engine
// subscribes to the network monitor so reconnection itself triggers a flush;
// call Close to unsubscribe.
func NewEngine(store PersistenceAdapter, api APIAdapter, network NetworkMonitor, config *Config, logger *slog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		store:   store,
		api:     api,
		network: network,
		config:  config,
		logger:  logger,
		clock:   time.Now,
		online:  network.Online(),
		status:  EngineIdle,
	}
	if !e.online {
		e.status = EngineOffline
	}
	e.unsubscribe = network.OnChange(e.SetOnline)
	return e
}

// Close detaches the engine from the network monitor.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// OnRemoteChange registers the callback receiving entities adopted during
// conflict resolution. Call before the first flush.
func (e *Engine) OnRemoteChange(fn func(RemoteChange)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteChange = fn
}

// EnqueueAction constructs a SyncAction, appends it to the queue in
// insertion order and durably persists it. It may be called while offline.
//
// On persistence failure the action is returned together with the error and
// stays in memory: the in-memory queue and the durable store may transiently
// diverge, and the durable store is authoritative after a restart.
func (e *Engine) EnqueueAction(ctx context.Context, entityType EntityType, entityID string, actionType ActionType, payload map[string]any) (*SyncAction, error) {
	if err := validateAction(entityType, entityID, actionType); err != nil {
		return nil, err
	}

	action := &SyncAction{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		ActionType: actionType,
		Payload:    payload,
		Timestamp:  e.clock(),
		Status:     StatusPending,
	}

	e.mu.Lock()
	e.queue = append(e.queue, action)
	e.mu.Unlock()

	if err := e.store.SavePendingAction(ctx, action); err != nil {
		e.logger.Warn("Failed to persist queued action; keeping it in memory",
			"action_id", action.ID, "entity_type", entityType, "error", err)
		return action, fmt.Errorf("failed to persist action %s: %w", action.ID, err)
	}

	e.logger.Debug("Queued action",
		"action_id", action.ID, "entity_type", entityType,
		"entity_id", entityID, "action_type", actionType)
	return action, nil
}

// LoadPersistedQueue replaces the in-memory queue with the durable store's
// contents. Call exactly once at startup, before any enqueue, to recover
// actions queued before a crash or restart. Actions left in_flight by an
// interrupted flush pass recover as pending.
func (e *Engine) LoadPersistedQueue(ctx context.Context) error {
	actions, err := e.store.LoadPendingActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted queue: %w", err)
	}
	for _, a := range actions {
		if a.Status == StatusInFlight {
			a.Status = StatusPending
		}
	}

	e.mu.Lock()
	e.queue = actions
	e.mu.Unlock()

	e.logger.Debug("Restored persisted queue", "count", len(actions))
	return nil
}

// FlushQueue attempts to deliver all currently pending actions, strictly
// sequentially and in insertion order. Overlapping calls are a safe no-op:
// the pass in progress keeps exclusive claim to its snapshot. Per-action
// failures never surface as an error from this method; they are recorded on
// the actions and in the overall engine status.
func (e *Engine) FlushQueue(ctx context.Context, authToken string) {
	e.mu.Lock()
	if e.syncing || !e.online {
		e.mu.Unlock()
		return
	}
	var snapshot []*SyncAction
	for _, a := range e.queue {
		if a.Status == StatusPending {
			a.Status = StatusInFlight
			snapshot = append(snapshot, a)
		}
	}
	if len(snapshot) == 0 {
		// Nothing deliverable; leave status and lastSyncedAt untouched.
		e.mu.Unlock()
		return
	}
	e.syncing = true
	e.status = EngineSyncing
	e.mu.Unlock()

	for _, a := range snapshot {
		if err := e.store.UpdateActionStatus(ctx, a.ID, StatusInFlight, a.RetryCount, a.Error); err != nil {
			e.logger.Warn("Failed to persist in_flight status", "action_id", a.ID, "error", err)
		}
	}

	hadError := false
	for _, action := range snapshot {
		result, err := e.api.ExecuteAction(ctx, action, authToken)
		switch {
		case err != nil:
			// Transport-level failure; retry like any other failure.
			hadError = true
			e.recordFailure(ctx, action, err.Error())

		case result.Success:
			e.removeAction(ctx, action)

		case result.StatusCode == http.StatusConflict && result.ServerEntity != nil:
			// Server wins on conflict: surface the authoritative entity,
			// then retire the losing local write exactly as on success.
			e.logger.Info("Conflict resolved by adopting server entity",
				"action_id", action.ID, "entity_type", action.EntityType,
				"entity_id", result.ServerEntity.ID,
				"server_version", result.ServerEntity.SyncVersion)
			e.emitRemoteChange(action.EntityType, result.ServerEntity)
			e.removeAction(ctx, action)

		default:
			hadError = true
			msg := result.Error
			if msg == "" {
				msg = fmt.Sprintf("server returned status %d", result.StatusCode)
			}
			e.recordFailure(ctx, action, msg)
		}
	}

	e.mu.Lock()
	if hadError {
		e.status = EngineError
	} else {
		e.status = EngineIdle
		e.lastSyncedAt = e.clock()
	}
	if !e.online {
		// Went offline while the pass was running.
		e.status = EngineOffline
	}
	e.syncing = false
	e.mu.Unlock()
}

// SetOnline updates connectivity. Transitioning offline→online with a
// non-empty queue triggers an implicit token-less flush: reconnection is a
// trigger, not just a flag flip. The engine does not own the auth
// lifecycle; callers needing an authenticated flush on reconnect must
// re-drive FlushQueue with a token.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	if !online {
		e.status = EngineOffline
		e.mu.Unlock()
		return
	}
	if e.status == EngineOffline {
		e.status = EngineIdle
	}
	hasPending := false
	for _, a := range e.queue {
		if a.Status == StatusPending {
			hasPending = true
			break
		}
	}
	e.mu.Unlock()

	if !wasOnline && hasPending {
		e.FlushQueue(context.Background(), "")
	}
}

// RetryDelay computes the backoff before the n-th retry: base * 2^n.
// The engine does not schedule anything itself; when to call FlushQueue
// again is the caller's policy (timer, reconnect event, etc).
func (e *Engine) RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return e.config.BaseRetryDelay << uint(retryCount)
}

// Status returns the engine's current sync state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Online reports the engine's view of connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// LastSyncedAt returns the completion time of the last fully clean flush
// pass, or the zero time if none has completed yet.
func (e *Engine) LastSyncedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncedAt
}

// PendingActions returns a snapshot copy of the queue, including failed
// actions retained for diagnostics.
func (e *Engine) PendingActions() []SyncAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]SyncAction, len(e.queue))
	for i, a := range e.queue {
		out[i] = *a
	}
	return out
}

func (e *Engine) recordFailure(ctx context.Context, action *SyncAction, msg string) {
	e.mu.Lock()
	action.RetryCount++
	action.Error = msg
	if action.RetryCount >= e.config.MaxRetries {
		action.Status = StatusFailed
	} else {
		action.Status = StatusPending
	}
	status, retries := action.Status, action.RetryCount
	e.mu.Unlock()

	if err := e.store.UpdateActionStatus(ctx, action.ID, status, retries, msg); err != nil {
		e.logger.Warn("Failed to persist retry state", "action_id", action.ID, "error", err)
	}
	e.logger.Warn("Action delivery failed",
		"action_id", action.ID, "entity_type", action.EntityType,
		"retry_count", retries, "status", status, "error", msg)
}

func (e *Engine) removeAction(ctx context.Context, action *SyncAction) {
	e.mu.Lock()
	for i, a := range e.queue {
		if a.ID == action.ID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if err := e.store.RemoveAction(ctx, action.ID); err != nil {
		e.logger.Warn("Failed to remove persisted action", "action_id", action.ID, "error", err)
	}
}

func (e *Engine) emitRemoteChange(entityType EntityType, entity *annosync.Entity) {
	e.mu.Lock()
	fn := e.onRemoteChange
	e.mu.Unlock()
	if fn != nil {
		fn(RemoteChange{EntityType: entityType, Entity: entity})
	}
}
