package recordings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/database"
)

const recordingColumns = `id, session_id, admin_id, participant_id, url, public_id, storage_key, bytes, duration_ms, format, created_at`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.AdminID, &rec.ParticipantID, &rec.URL, &rec.PublicID,
		&rec.StorageKey, &rec.Bytes, &rec.DurationMs, &rec.Format, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrRecordingNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// InsertRecording inserts a recording; a duplicate public id returns the stored row.
func (r *Repository) InsertRecording(ctx context.Context, rec *models.Recording) (*models.Recording, bool, error) {
	q := `INSERT INTO live_recordings (id, session_id, admin_id, participant_id, url, public_id, storage_key, bytes, duration_ms, format, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, public_id) DO NOTHING
		RETURNING ` + recordingColumns
	out, err := scanRecording(r.pool.QueryRow(ctx, q, rec.ID, rec.SessionID, rec.AdminID, rec.ParticipantID, rec.URL,
		rec.PublicID, rec.StorageKey, rec.Bytes, rec.DurationMs, rec.Format, rec.CreatedAt))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, models.ErrRecordingNotFound) {
		return nil, false, err
	}
	existing, err := scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM live_recordings
		WHERE session_id = $1 AND public_id = $2`, rec.SessionID, rec.PublicID))
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetRecording returns a recording by id.
func (r *Repository) GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM live_recordings WHERE id = $1`
	return database.RetryRead(ctx, func(ctx context.Context) (*models.Recording, error) {
		return scanRecording(r.pool.QueryRow(ctx, q, id))
	})
}

// ListRecordings returns all recordings for a session, newest first.
func (r *Repository) ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM live_recordings WHERE session_id = $1 ORDER BY created_at DESC, id`
	return database.RetryRead(ctx, func(ctx context.Context) ([]models.Recording, error) {
		rows, err := r.pool.Query(ctx, q, sessionID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		list := make([]models.Recording, 0)
		for rows.Next() {
			rec, err := scanRecording(rows)
			if err != nil {
				return nil, err
			}
			list = append(list, *rec)
		}
		return list, rows.Err()
	})
}
