package events

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEvent appends an event. Replaying an id that already exists is a no-op.
func (r *Repository) InsertEvent(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO live_events (id, session_id, participant_id, role, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		payload = e.Payload
	}
	_, err := r.pool.Exec(ctx, q, e.ID, e.SessionID, e.ParticipantID, e.Role, e.Kind, payload, e.CreatedAt)
	return err
}

// ListEvents returns events newest first.
func (r *Repository) ListEvents(ctx context.Context, sessionID uuid.UUID, f models.EventFilter) ([]models.Event, error) {
	var (
		where = []string{"session_id = $1"}
		args  = []interface{}{sessionID}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Kind != "" {
		add("kind = ?", f.Kind)
	}
	if f.Since != nil {
		add("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		add("created_at <= ?", *f.Until)
	}
	args = append(args, f.Limit)
	q := `SELECT id, seq, session_id, participant_id, role, kind, payload, created_at
		FROM live_events WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, seq DESC
		LIMIT $` + strconv.Itoa(len(args))

	return database.RetryRead(ctx, func(ctx context.Context) ([]models.Event, error) {
		rows, err := r.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.Event, 0)
		for rows.Next() {
			var e models.Event
			var payload []byte
			if err := rows.Scan(&e.ID, &e.Seq, &e.SessionID, &e.ParticipantID, &e.Role, &e.Kind, &payload, &e.CreatedAt); err != nil {
				return nil, err
			}
			e.Payload = payload
			list = append(list, e)
		}
		return list, rows.Err()
	})
}
