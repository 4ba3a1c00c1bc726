package handraises

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

const handColumns = `id, seq, session_id, participant_id, display_name, state, created_at, updated_at`

// Repository handles hand raise persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a hand raise repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanHand(row pgx.Row) (*models.HandRaise, error) {
	var h models.HandRaise
	var state string
	if err := row.Scan(&h.ID, &h.Seq, &h.SessionID, &h.ParticipantID, &h.DisplayName, &state, &h.CreatedAt, &h.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrHandRaiseNotFound
		}
		return nil, err
	}
	h.State = models.HandRaiseState(state)
	return &h, nil
}

// InsertHandRaise relies on the partial unique index on raised hands; a
// conflict returns the pending record.
func (r *Repository) InsertHandRaise(ctx context.Context, h *models.HandRaise) (*models.HandRaise, bool, error) {
	q := `INSERT INTO live_hand_raises (id, session_id, participant_id, display_name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (session_id, participant_id) WHERE state = 'raised' DO NOTHING
		RETURNING ` + handColumns
	out, err := scanHand(r.pool.QueryRow(ctx, q, h.ID, h.SessionID, h.ParticipantID, h.DisplayName, string(h.State), h.CreatedAt))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, models.ErrHandRaiseNotFound) {
		return nil, false, err
	}
	existing, err := scanHand(r.pool.QueryRow(ctx, `SELECT `+handColumns+` FROM live_hand_raises
		WHERE session_id = $1 AND participant_id = $2 AND state = 'raised'`, h.SessionID, h.ParticipantID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetHandRaise returns a hand raise by id.
func (r *Repository) GetHandRaise(ctx context.Context, id uuid.UUID) (*models.HandRaise, error) {
	q := `SELECT ` + handColumns + ` FROM live_hand_raises WHERE id = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.HandRaise, error) {
		return scanHand(r.pool.QueryRow(ctx, q, id))
	})
}

// SwapHandRaiseState is a compare-and-swap on state.
func (r *Repository) SwapHandRaiseState(ctx context.Context, id uuid.UUID, from, to models.HandRaiseState, at time.Time) (*models.HandRaise, bool, error) {
	q := `UPDATE live_hand_raises SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2 RETURNING ` + handColumns
	h, err := scanHand(r.pool.QueryRow(ctx, q, id, string(from), string(to), at))
	if errors.Is(err, models.ErrHandRaiseNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// ListRaisedHands returns pending hands oldest first; seq breaks timestamp ties.
func (r *Repository) ListRaisedHands(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]models.HandRaise, error) {
	q := `SELECT ` + handColumns + ` FROM live_hand_raises
		WHERE session_id = $1 AND state = 'raised' AND created_at >= $2
		ORDER BY created_at, seq`
	return database.RetryRead(ctx, func(ctx context.Context) ([]models.HandRaise, error) {
		rows, err := r.pool.Query(ctx, q, sessionID, since)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.HandRaise, 0)
		for rows.Next() {
			h, err := scanHand(rows)
			if err != nil {
				return nil, err
			}
			list = append(list, *h)
		}
		return list, rows.Err()
	})
}

// ResolveRaisedHands resolves every pending hand of a session.
func (r *Repository) ResolveRaisedHands(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE live_hand_raises SET state = 'resolved', updated_at = $2
		WHERE session_id = $1 AND state = 'raised'`, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("resolve raised hands: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteHandRaisesBefore removes hand raises created before cutoff, whatever their state.
func (r *Repository) DeleteHandRaisesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_hand_raises WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete hand raises: %w", err)
	}
	return tag.RowsAffected(), nil
}
