package models

import (
	"time"

	"github.com/google/uuid"
)

// Room binds a session to a provider room. ProviderRoom can be rotated without
// changing the session or the slug.
type Room struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	ProviderRoom string    `json:"provider_room"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
