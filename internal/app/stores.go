package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/chat"
	"github.com/aura-webinar/liveclass/internal/events"
	"github.com/aura-webinar/liveclass/internal/handraises"
	"github.com/aura-webinar/liveclass/internal/participants"
	"github.com/aura-webinar/liveclass/internal/recordings"
	"github.com/aura-webinar/liveclass/internal/rooms"
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/internal/store/memory"
	"github.com/aura-webinar/liveclass/internal/worker"
)

// SessionStore is everything the app needs from session persistence.
type SessionStore interface {
	sessions.Store
	worker.SessionSweeper
}

// ParticipantStore is everything the app needs from participant persistence.
type ParticipantStore interface {
	participants.Store
	sessions.ParticipantCloser
	worker.ParticipantSweeper
}

// HandStore is everything the app needs from hand raise persistence.
type HandStore interface {
	handraises.Store
	worker.HandRaiseSweeper
}

// ChatStore is everything the app needs from chat persistence.
type ChatStore interface {
	chat.Store
	worker.ChatSweeper
}

// Stores groups the persistence backends.
type Stores struct {
	Sessions     SessionStore
	Rooms        rooms.Store
	Participants ParticipantStore
	Hands        HandStore
	Chat         ChatStore
	Events       events.Store
	Recordings   recordings.Store
}

// PostgresStores builds the pgx repositories over one pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Sessions:     sessions.NewRepository(pool),
		Rooms:        rooms.NewRepository(pool),
		Participants: participants.NewRepository(pool),
		Hands:        handraises.NewRepository(pool),
		Chat:         chat.NewRepository(pool),
		Events:       events.NewRepository(pool),
		Recordings:   recordings.NewRepository(pool),
	}
}

// MemoryStores serves every store from one in-memory backend.
func MemoryStores(m *memory.Store) Stores {
	return Stores{
		Sessions:     m,
		Rooms:        m,
		Participants: m,
		Hands:        m,
		Chat:         m,
		Events:       m,
		Recordings:   m,
	}
}
