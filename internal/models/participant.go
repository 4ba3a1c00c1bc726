package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role a participant holds within a session.
type ParticipantRole string

const (
	RoleInstructor ParticipantRole = "instructor"
	RoleStudent    ParticipantRole = "student"
)

// Valid reports whether r is a known participant role.
func (r ParticipantRole) Valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

// Identity prefixes used in IdentityRef.
const (
	IdentityPrefixUser  = "user:"
	IdentityPrefixAdmin = "admin:"
)

// UserIdentity returns the identity reference for a learner account.
func UserIdentity(id string) string {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return IdentityPrefixUser + id
}

// AdminIdentity returns the identity reference for an admin account.
func AdminIdentity(id string) string {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return IdentityPrefixAdmin + id
}

// Participant is a session-scoped attendee. The signaling key itself is never
// stored; only its SHA-256 digest is.
type Participant struct {
	ID               uuid.UUID       `json:"id"`
	SessionID        uuid.UUID       `json:"session_id"`
	Role             ParticipantRole `json:"role"`
	DisplayName      string          `json:"display_name"`
	IdentityRef      *string         `json:"identity_ref,omitempty"`
	SignalingKeyHash string          `json:"-"`
	Connected        bool            `json:"connected"`
	Waiting          bool            `json:"waiting"`
	RoomID           *uuid.UUID      `json:"room_id,omitempty"`
	JoinedAt         time.Time       `json:"joined_at"`
	LastSeenAt       time.Time       `json:"last_seen_at"`
}

// Identity returns the identity reference or an empty string.
func (p *Participant) Identity() string {
	if p.IdentityRef == nil {
		return ""
	}
	return *p.IdentityRef
}

// IsInstructor reports whether p holds the instructor role.
func (p *Participant) IsInstructor() bool { return p.Role == RoleInstructor }
