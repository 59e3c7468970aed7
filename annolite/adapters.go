// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"context"

	"github.com/mobiletoly/go-annosync/annosync"
)

// PersistenceAdapter durably stores the pending-action queue across process
// restarts. On restart the durable store is authoritative; stored ordering
// must be recoverable (insertion order by enqueue timestamp).
type PersistenceAdapter interface {
	LoadPendingActions(ctx context.Context) ([]*SyncAction, error)
	SavePendingAction(ctx context.Context, action *SyncAction) error
	UpdateActionStatus(ctx context.Context, id string, status ActionStatus, retryCount int, lastError string) error
	RemoveAction(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

// NetworkMonitor reports connectivity and notifies on every transition.
type NetworkMonitor interface {
	Online() bool
	// OnChange registers a callback fired on every online/offline
	// transition and returns an unsubscribe function.
	OnChange(fn func(online bool)) (unsubscribe func())
}

// ExecuteResult is the normalized outcome of delivering one action.
// Ordinary HTTP error statuses are reported here with Success=false, not as
// Go errors; adapter errors are reserved for transport-level failures.
type ExecuteResult struct {
	Success      bool
	StatusCode   int
	ServerEntity *annosync.Entity // authoritative row; always set when StatusCode is 409
	Error        string
}

// APIAdapter executes one queued action against the server.
type APIAdapter interface {
	ExecuteAction(ctx context.Context, action *SyncAction, authToken string) (*ExecuteResult, error)
}
