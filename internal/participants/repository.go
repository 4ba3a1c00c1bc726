package participants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

const participantColumns = `id, session_id, role, display_name, identity_ref, signaling_key_hash,
	connected, waiting, room_id, joined_at, last_seen_at`

// prefixed qualifies each column of a column list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// Repository handles participant persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	var role string
	err := row.Scan(&p.ID, &p.SessionID, &role, &p.DisplayName, &p.IdentityRef, &p.SignalingKeyHash,
		&p.Connected, &p.Waiting, &p.RoomID, &p.JoinedAt, &p.LastSeenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrParticipantNotFound
		}
		return nil, err
	}
	p.Role = models.ParticipantRole(role)
	return &p, nil
}

// UpsertParticipant inserts a participant or, for a known identity, rotates the
// existing row's key in a single statement. An admitted participant that is
// still connected stays admitted; otherwise the waiting room applies again.
func (r *Repository) UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	q := `INSERT INTO live_participants (id, session_id, role, display_name, identity_ref, signaling_key_hash,
			connected, waiting, room_id, joined_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (session_id, identity_ref) WHERE identity_ref IS NOT NULL DO UPDATE SET
			role = EXCLUDED.role,
			display_name = EXCLUDED.display_name,
			signaling_key_hash = EXCLUDED.signaling_key_hash,
			waiting = EXCLUDED.waiting AND NOT (live_participants.connected AND NOT live_participants.waiting),
			connected = NOT (EXCLUDED.waiting AND NOT (live_participants.connected AND NOT live_participants.waiting)),
			room_id = COALESCE(EXCLUDED.room_id, live_participants.room_id),
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING ` + participantColumns
	return scanParticipant(r.pool.QueryRow(ctx, q, p.ID, p.SessionID, string(p.Role), p.DisplayName, p.IdentityRef,
		p.SignalingKeyHash, p.Connected, p.Waiting, p.RoomID, p.JoinedAt))
}

// GetParticipant returns a participant by id.
func (r *Repository) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM live_participants WHERE id = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Participant, error) {
		return scanParticipant(r.pool.QueryRow(ctx, q, id))
	})
}

// GetParticipantByKeyHash returns the participant holding a signaling key.
func (r *Repository) GetParticipantByKeyHash(ctx context.Context, hash string) (*models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM live_participants WHERE signaling_key_hash = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Participant, error) {
		return scanParticipant(r.pool.QueryRow(ctx, q, hash))
	})
}

// MarkParticipantReconnected refreshes last_seen_at and marks admitted participants connected.
func (r *Repository) MarkParticipantReconnected(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	q := `UPDATE live_participants SET connected = NOT waiting, last_seen_at = $2 WHERE id = $1 RETURNING ` + participantColumns
	return scanParticipant(r.pool.QueryRow(ctx, q, id, at))
}

// HeartbeatParticipant refreshes last_seen_at from a live socket. A stale sweep
// may have cleared connected in the meantime, so it is restored for admitted
// participants of sessions that have not ended.
func (r *Repository) HeartbeatParticipant(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	q := `UPDATE live_participants p SET
			connected = NOT p.waiting AND s.status <> 'ended',
			last_seen_at = $2
		FROM live_sessions s
		WHERE p.id = $1 AND s.id = p.session_id
		RETURNING ` + prefixed("p.", participantColumns)
	return scanParticipant(r.pool.QueryRow(ctx, q, id, at))
}

// LeaveParticipant clears the connection flags; waiting participants lose their key.
func (r *Repository) LeaveParticipant(ctx context.Context, id uuid.UUID, revokedKeyHash string, at time.Time) (*models.Participant, error) {
	q := `UPDATE live_participants SET
			signaling_key_hash = CASE WHEN waiting THEN $2 ELSE signaling_key_hash END,
			connected = FALSE,
			waiting = FALSE,
			last_seen_at = $3
		WHERE id = $1
		RETURNING ` + participantColumns
	return scanParticipant(r.pool.QueryRow(ctx, q, id, revokedKeyHash, at))
}

// MarkParticipantDisconnected clears connected only.
func (r *Repository) MarkParticipantDisconnected(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	q := `UPDATE live_participants SET connected = FALSE, last_seen_at = $2 WHERE id = $1 RETURNING ` + participantColumns
	return scanParticipant(r.pool.QueryRow(ctx, q, id, at))
}

// SetParticipantWaiting sets the waiting flag. A participant put back into the
// waiting room is disconnected.
func (r *Repository) SetParticipantWaiting(ctx context.Context, id uuid.UUID, waiting bool, at time.Time) (*models.Participant, error) {
	q := `UPDATE live_participants SET
			waiting = $2,
			connected = CASE WHEN $2 THEN FALSE ELSE connected END,
			last_seen_at = $3
		WHERE id = $1
		RETURNING ` + participantColumns
	return scanParticipant(r.pool.QueryRow(ctx, q, id, waiting, at))
}

// DeleteParticipant removes a participant and, by cascade, its hand raises.
func (r *Repository) DeleteParticipant(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_participants WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrParticipantNotFound
	}
	return nil
}

// ListParticipants returns a session's participants in join order.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	q := `SELECT ` + participantColumns + ` FROM live_participants WHERE session_id = $1 ORDER BY joined_at, id`
	return database.RetryRead(ctx, func(ctx context.Context) ([]models.Participant, error) {
		rows, err := r.pool.Query(ctx, q, sessionID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.Participant, 0)
		for rows.Next() {
			p, err := scanParticipant(rows)
			if err != nil {
				return nil, err
			}
			list = append(list, *p)
		}
		return list, rows.Err()
	})
}

// DisconnectSessionParticipants marks every participant of a session disconnected.
func (r *Repository) DisconnectSessionParticipants(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE live_participants SET connected = FALSE, last_seen_at = $2
		WHERE session_id = $1 AND connected`, sessionID, at)
	if err != nil {
		return 0, fmt.Errorf("disconnect session participants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkStaleParticipants disconnects participants whose last heartbeat is before cutoff.
func (r *Repository) MarkStaleParticipants(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE live_participants SET connected = FALSE
		WHERE connected AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale participants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DisconnectEndedSessionParticipants repairs participants left connected in ended sessions.
func (r *Repository) DisconnectEndedSessionParticipants(ctx context.Context, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE live_participants p SET connected = FALSE, last_seen_at = $1
		FROM live_sessions s
		WHERE p.session_id = s.id AND s.status = 'ended' AND p.connected`, at)
	if err != nil {
		return 0, fmt.Errorf("disconnect ended session participants: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDisconnectedParticipants removes participants disconnected since before cutoff.
func (r *Repository) DeleteDisconnectedParticipants(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM live_participants WHERE NOT connected AND last_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete disconnected participants: %w", err)
	}
	return tag.RowsAffected(), nil
}
