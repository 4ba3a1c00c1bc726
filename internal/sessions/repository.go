package sessions

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

const sessionColumns = `id, course_id, course_slug, course_name, title, scheduled_start, scheduled_end, status,
	host_admin_id, host_display_name, host_secret, waiting_room_enabled, locked, passcode_hash, meeting_token,
	allow_student_audio, allow_student_video, allow_student_screen_share, banned_identities, screen_share_owner,
	started_at, ended_at, created_at, updated_at`

// Repository handles session persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	var status string
	err := row.Scan(&s.ID, &s.CourseID, &s.CourseSlug, &s.CourseName, &s.Title, &s.ScheduledStart, &s.ScheduledEnd, &status,
		&s.HostAdminID, &s.HostDisplayName, &s.HostSecret, &s.WaitingRoomEnabled, &s.Locked, &s.PasscodeHash, &s.MeetingToken,
		&s.AllowStudentAudio, &s.AllowStudentVideo, &s.AllowStudentScreenShare, &s.BannedIdentities, &s.ScreenShareOwner,
		&s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	return &s, nil
}

// CreateSession inserts a new session.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO live_sessions (id, course_id, course_slug, course_name, title, scheduled_start, scheduled_end, status,
		host_admin_id, host_display_name, host_secret, waiting_room_enabled, locked, passcode_hash, meeting_token,
		allow_student_audio, allow_student_video, allow_student_screen_share, banned_identities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)`
	banned := s.BannedIdentities
	if banned == nil {
		banned = []string{}
	}
	_, err := r.pool.Exec(ctx, q, s.ID, s.CourseID, s.CourseSlug, s.CourseName, s.Title, s.ScheduledStart, s.ScheduledEnd, string(s.Status),
		s.HostAdminID, s.HostDisplayName, s.HostSecret, s.WaitingRoomEnabled, s.Locked, s.PasscodeHash, s.MeetingToken,
		s.AllowStudentAudio, s.AllowStudentVideo, s.AllowStudentScreenShare, banned, s.CreatedAt)
	return err
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Session, error) {
		return scanSession(r.pool.QueryRow(ctx, q, id))
	})
}

// ListSessions returns sessions ordered by schedule, newest creations last.
func (r *Repository) ListSessions(ctx context.Context, status models.SessionStatus, limit int) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE ($1 = '' OR status = $1)
		ORDER BY scheduled_start NULLS LAST, created_at
		LIMIT $2`
	return database.RetryRead(ctx, func(ctx context.Context) ([]models.Session, error) {
		rows, err := r.pool.Query(ctx, q, string(status), limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.Session, 0)
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return nil, err
			}
			list = append(list, *s)
		}
		return list, rows.Err()
	})
}

// UpdateSession applies non-nil fields of u.
func (r *Repository) UpdateSession(ctx context.Context, id uuid.UUID, u models.SessionUpdate, at time.Time) (*models.Session, error) {
	q := `UPDATE live_sessions SET
		title = COALESCE($2, title),
		scheduled_start = COALESCE($3, scheduled_start),
		scheduled_end = COALESCE($4, scheduled_end),
		waiting_room_enabled = COALESCE($5, waiting_room_enabled),
		locked = COALESCE($6, locked),
		passcode_hash = COALESCE($7, passcode_hash),
		meeting_token = COALESCE($8, meeting_token),
		allow_student_audio = COALESCE($9, allow_student_audio),
		allow_student_video = COALESCE($10, allow_student_video),
		allow_student_screen_share = COALESCE($11, allow_student_screen_share),
		updated_at = $12
		WHERE id = $1
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, id, u.Title, u.ScheduledStart, u.ScheduledEnd, u.WaitingRoomEnabled, u.Locked,
		u.PasscodeHash, u.MeetingToken, u.AllowStudentAudio, u.AllowStudentVideo, u.AllowStudentScreenShare, at))
}

// SwapSessionStatus is a compare-and-swap on the status column.
func (r *Repository) SwapSessionStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, bool, error) {
	q := `UPDATE live_sessions SET
		status = $3,
		started_at = CASE WHEN $3 = 'live' THEN COALESCE(started_at, $4) ELSE started_at END,
		ended_at = CASE WHEN $3 = 'ended' THEN $4 ELSE ended_at END,
		updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, string(from), string(to), at))
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// SwapScreenShareOwner is a compare-and-swap on screen_share_owner. A nil from
// matches an empty slot and a nil to releases it.
func (r *Repository) SwapScreenShareOwner(ctx context.Context, id uuid.UUID, from, to *uuid.UUID, at time.Time) (*models.Session, bool, error) {
	q := `UPDATE live_sessions SET screen_share_owner = $3, updated_at = $4
		WHERE id = $1 AND screen_share_owner IS NOT DISTINCT FROM $2
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, id, from, to, at))
	if errors.Is(err, models.ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// FindLiveSessionByCourse returns the most recently started live session whose
// course id or slug matches one of keys.
func (r *Repository) FindLiveSessionByCourse(ctx context.Context, keys []string) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions
		WHERE status = 'live' AND (lower(course_id) = ANY($1) OR lower(course_slug) = ANY($1))
		ORDER BY started_at DESC NULLS LAST
		LIMIT 1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Session, error) {
		return scanSession(r.pool.QueryRow(ctx, q, keys))
	})
}

// BanIdentity appends identity to the banned list once.
func (r *Repository) BanIdentity(ctx context.Context, id uuid.UUID, identity string, at time.Time) (*models.Session, error) {
	q := `UPDATE live_sessions SET
		banned_identities = CASE WHEN $2 = ANY(banned_identities) THEN banned_identities ELSE array_append(banned_identities, $2) END,
		updated_at = $3
		WHERE id = $1
		RETURNING ` + sessionColumns
	return scanSession(r.pool.QueryRow(ctx, q, id, identity, at))
}

// DeleteEndedSessions removes sessions that ended before cutoff. Participants,
// hand raises and rooms cascade.
func (r *Repository) DeleteEndedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM live_sessions WHERE status = 'ended' AND ended_at < $1`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete ended sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
