// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annosync

// Entity type constants for syncable entities
const (
	EntityAnnotation = "annotation"
	EntityDocument   = "document"
	EntityFolder     = "folder"
)

// Action type constants for client mutations
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// VersionKey is the payload key carrying the client-observed sync version
// on update actions. It is stripped from the payload before storage.
const VersionKey = "sync_version"

// MaxBatchSize is the maximum number of actions accepted per batch call.
const MaxBatchSize = 50
