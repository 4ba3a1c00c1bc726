package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording is an immutable ledger entry for a finished capture stored outside the service.
type Recording struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	AdminID       string    `json:"admin_id"`
	ParticipantID *string   `json:"participant_id,omitempty"`
	URL           string    `json:"url"`
	PublicID      string    `json:"public_id"`
	StorageKey    string    `json:"storage_key,omitempty"`
	Bytes         int64     `json:"bytes"`
	DurationMs    int64     `json:"duration_ms"`
	Format        string    `json:"format,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
