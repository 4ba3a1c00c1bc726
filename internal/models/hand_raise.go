package models

import (
	"time"

	"github.com/google/uuid"
)

// HandRaiseState is the state of a request-to-speak.
type HandRaiseState string

const (
	HandRaised   HandRaiseState = "raised"
	HandLowered  HandRaiseState = "lowered"
	HandResolved HandRaiseState = "resolved"
)

// HandRaise is a request to speak. Seq breaks ties between raises created
// within the same timestamp.
type HandRaise struct {
	ID            uuid.UUID      `json:"id"`
	Seq           int64          `json:"-"`
	SessionID     uuid.UUID      `json:"session_id"`
	ParticipantID uuid.UUID      `json:"participant_id"`
	DisplayName   string         `json:"display_name,omitempty"`
	State         HandRaiseState `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
