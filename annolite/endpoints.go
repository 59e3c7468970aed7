// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package annolite

import (
	"fmt"
	"net/http"
)

// Endpoint is the REST call shape for one queued action.
type Endpoint struct {
	Method string
	Path   string
	Body   map[string]any // nil for delete
}

// ResolveEndpoint maps (entityType, actionType) to its REST call shape.
// It is a pure function with no state. An unsupported combination is a
// programming error, not a runtime failure, and panics rather than
// silently dropping the action.
func ResolveEndpoint(action *SyncAction) Endpoint {
	var base string
	switch action.EntityType {
	case EntityAnnotation:
		base = "/annotations"
	case EntityDocument:
		base = "/documents"
	case EntityFolder:
		base = "/folders"
	default:
		panic(fmt.Sprintf("annolite: no endpoint for entity type %q", action.EntityType))
	}

	switch action.ActionType {
	case ActionCreate:
		body := action.Payload
		if action.EntityID != "" {
			// A client-assigned id rides in the body so create replays
			// stay idempotent on the single-entity endpoint.
			body = make(map[string]any, len(action.Payload)+1)
			for k, v := range action.Payload {
				body[k] = v
			}
			body["id"] = action.EntityID
		}
		return Endpoint{Method: http.MethodPost, Path: base, Body: body}
	case ActionUpdate:
		return Endpoint{Method: http.MethodPatch, Path: base + "/" + action.EntityID, Body: action.Payload}
	case ActionDelete:
		return Endpoint{Method: http.MethodDelete, Path: base + "/" + action.EntityID}
	default:
		panic(fmt.Sprintf("annolite: no endpoint for action type %q on %q", action.ActionType, action.EntityType))
	}
}
