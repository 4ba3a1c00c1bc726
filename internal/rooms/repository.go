package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

const roomColumns = `id, session_id, name, slug, provider_room, created_at, updated_at`

// Repository handles room persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.SessionID, &r.Name, &r.Slug, &r.ProviderRoom, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRoomNotFound
		}
		return nil, err
	}
	return &r, nil
}

// InsertRoom inserts a room, or returns the existing one when the session
// already has a binding.
func (r *Repository) InsertRoom(ctx context.Context, room *models.Room) (*models.Room, bool, error) {
	q := `INSERT INTO live_rooms (id, session_id, name, slug, provider_room, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING ` + roomColumns
	out, err := scanRoom(r.pool.QueryRow(ctx, q, room.ID, room.SessionID, room.Name, room.Slug, room.ProviderRoom, room.CreatedAt))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, models.ErrRoomNotFound) {
		return nil, false, err
	}
	existing, err := r.GetRoom(ctx, room.SessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetRoom returns the room bound to a session.
func (r *Repository) GetRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM live_rooms WHERE session_id = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Room, error) {
		return scanRoom(r.pool.QueryRow(ctx, q, sessionID))
	})
}

// UpdateProviderRoom replaces the provider room name.
func (r *Repository) UpdateProviderRoom(ctx context.Context, sessionID uuid.UUID, providerRoom string, at time.Time) (*models.Room, error) {
	q := `UPDATE live_rooms SET provider_room = $2, updated_at = $3 WHERE session_id = $1 RETURNING ` + roomColumns
	return scanRoom(r.pool.QueryRow(ctx, q, sessionID, providerRoom, at))
}
