package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

const chatColumns = `id, seq, session_id, participant_id, sender_role, sender_display_name, body, created_at`

// Repository handles chat persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertChatMessage appends a message and returns it with its seq.
func (r *Repository) InsertChatMessage(ctx context.Context, m *models.ChatMessage) (*models.ChatMessage, error) {
	q := `INSERT INTO live_chat_messages (id, session_id, participant_id, sender_role, sender_display_name, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + chatColumns
	var out models.ChatMessage
	err := r.pool.QueryRow(ctx, q, m.ID, m.SessionID, m.ParticipantID, m.SenderRole, m.SenderDisplayName, m.Body, m.CreatedAt).
		Scan(&out.ID, &out.Seq, &out.SessionID, &out.ParticipantID, &out.SenderRole, &out.SenderDisplayName, &out.Body, &out.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChatMessages selects the newest page and flips it to chronological order.
func (r *Repository) ListChatMessages(ctx context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.ChatMessage, error) {
	q := `SELECT ` + chatColumns + ` FROM (
			SELECT ` + chatColumns + ` FROM live_chat_messages
			WHERE session_id = $1 AND created_at >= $2
			ORDER BY created_at DESC, seq DESC
			LIMIT $3
		) recent
		ORDER BY created_at, seq`
	return database.RetryRead(ctx, func(ctx context.Context) ([]models.ChatMessage, error) {
		rows, err := r.pool.Query(ctx, q, sessionID, since, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.ChatMessage, 0)
		for rows.Next() {
			var m models.ChatMessage
			if err := rows.Scan(&m.ID, &m.Seq, &m.SessionID, &m.ParticipantID, &m.SenderRole, &m.SenderDisplayName, &m.Body, &m.CreatedAt); err != nil {
				return nil, err
			}
			list = append(list, m)
		}
		return list, rows.Err()
	})
}

// DeleteChatMessagesBefore removes messages older than cutoff.
func (r *Repository) DeleteChatMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_chat_messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete chat messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
