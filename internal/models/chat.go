package models

import (
	"time"

	"github.com/google/uuid"
)

// SenderRoleSystem marks chat messages posted by the server.
const SenderRoleSystem = "system"

// ChatMessage is an append-only chat entry. Sender name and role are
// snapshots taken at write time.
type ChatMessage struct {
	ID                uuid.UUID  `json:"id"`
	Seq               int64      `json:"-"`
	SessionID         uuid.UUID  `json:"session_id"`
	ParticipantID     *uuid.UUID `json:"participant_id,omitempty"`
	SenderRole        string     `json:"sender_role"`
	SenderDisplayName string     `json:"sender_display_name"`
	Body              string     `json:"body"`
	CreatedAt         time.Time  `json:"created_at"`
}
