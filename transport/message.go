// Package transport exposes the collaboration core over WebSocket plus a
// few read-only HTTP diagnostics endpoints. It owns no document or
// presence state of its own; it adapts wire messages onto the engine and
// tracker contracts and fans their notifications back out.
package transport

import (
	"encoding/json"

	"dashsync/operation"
	"dashsync/presence"
	"dashsync/syncengine"
)

// Inbound message types.
const (
	MessageTypeOperation      = "operation"
	MessageTypeSyncRequest    = "sync_request"
	MessageTypeCursorUpdate   = "cursor_update"
	MessageTypeActivityUpdate = "activity_update"
	MessageTypeLeave          = "leave"
)

// Outbound message types.
const (
	MessageTypeJoined       = "joined"
	MessageTypeSubmitResult = "submit_result"
	MessageTypeSyncResponse = "sync_response"
	MessageTypeCursorResult = "cursor_result"
	MessageTypeActivity     = "activity_result"
	MessageTypeError        = "error"
)

// Message is the WebSocket wire frame. The Type field selects which of the
// optional fields are populated.
type Message struct {
	Type        string `json:"type"`
	DashboardID string `json:"dashboardId,omitempty"`
	UserID      string `json:"userId,omitempty"`

	// Inbound fields.
	Operation   *operation.Operation     `json:"operation,omitempty"`
	FromVersion int64                    `json:"fromVersion,omitempty"`
	Cursor      *presence.CursorPosition `json:"cursor,omitempty"`
	Action      string                   `json:"action,omitempty"`
	ElementID   string                   `json:"elementId,omitempty"`

	// Outbound fields.
	Join         *joinedPayload            `json:"join,omitempty"`
	SubmitResult *syncengine.SubmitResult  `json:"submitResult,omitempty"`
	SyncResult   *syncengine.SyncResult    `json:"syncResult,omitempty"`
	CursorResult *presence.CursorResult    `json:"cursorResult,omitempty"`
	Activity     *presence.ActivityResult  `json:"activity,omitempty"`
	Payload      json.RawMessage           `json:"payload,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// joinedPayload is sent to a client right after its connection is
// registered with both components.
type joinedPayload struct {
	Sync     *syncengine.JoinResult `json:"sync"`
	Presence *presence.JoinResult   `json:"presence"`
}
