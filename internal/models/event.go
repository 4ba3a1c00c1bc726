package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event kinds written by the live-session services.
const (
	EventKindStatus      = "status"
	EventKindJoin        = "join"
	EventKindReconnect   = "reconnect"
	EventKindLeave       = "leave"
	EventKindDisconnect  = "disconnect"
	EventKindAdmit       = "admit"
	EventKindDeny        = "deny"
	EventKindKick        = "kick"
	EventKindMedia       = "media"
	EventKindChat        = "chat"
	EventKindHandRaise   = "hand_raise"
	EventKindHandLower   = "hand_lower"
	EventKindHandResolve = "hand_resolve"
	EventKindRoomCreated = "room_created"
	EventKindRoomRotated = "room_rotated"
	EventKindRecording   = "recording"
	EventKindSettings    = "settings"
)

// Event is an append-only audit record. ParticipantID is a plain label so
// events outlive participant rows.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Seq           int64           `json:"-"`
	SessionID     uuid.UUID       `json:"session_id"`
	ParticipantID *string         `json:"participant_id,omitempty"`
	Role          string          `json:"role,omitempty"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EventInput is what callers hand to the event recorder.
type EventInput struct {
	SessionID     uuid.UUID
	ParticipantID *uuid.UUID
	Role          string
	Kind          string
	Payload       interface{}
}

// EventFilter narrows an event query. Zero values mean no restriction.
type EventFilter struct {
	Kind  string
	Since *time.Time
	Until *time.Time
	Limit int
}
