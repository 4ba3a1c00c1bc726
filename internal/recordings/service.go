// Package recordings keeps the ledger of finished captures stored outside the service.
package recordings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/storage"
)

// Store persists recordings. Entries are never updated or deleted.
type Store interface {
	// InsertRecording is idempotent on (session_id, public_id) and returns the
	// stored row either way.
	InsertRecording(ctx context.Context, r *models.Recording) (rec *models.Recording, created bool, err error)
	GetRecording(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListRecordings(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error)
}

// Sessions reads sessions.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// EventRecorder appends to the audit log.
type EventRecorder interface {
	Record(ctx context.Context, in models.EventInput)
}

// Presigner signs download links for objects in the recordings bucket.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	RecordingsBucket() string
	PresignExpire() time.Duration
}

// ExternalRef describes a capture produced by the media provider.
type ExternalRef struct {
	URL           string  `json:"url"`
	PublicID      string  `json:"public_id"`
	StorageKey    string  `json:"storage_key,omitempty"`
	Bytes         int64   `json:"bytes"`
	DurationMs    int64   `json:"duration_ms"`
	Format        string  `json:"format"`
	ParticipantID *string `json:"participant_id,omitempty"`
}

// Download is a time-limited or permanent link to a recording.
type Download struct {
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Service attaches and reads recordings.
type Service struct {
	store    Store
	sessions Sessions
	events   EventRecorder
	s3       Presigner
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a recording service. s3 may be nil.
func NewService(store Store, sessions Sessions, events EventRecorder, s3 Presigner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		events:   events,
		s3:       s3,
		logger:   logger.With(zap.String("component", "recordings")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// AttachRecording records a finished capture. An empty adminID falls back to
// the session host. Attaching the same public id twice returns the first row.
func (s *Service) AttachRecording(ctx context.Context, sessionID uuid.UUID, adminID string, ref ExternalRef) (*models.Recording, error) {
	ref.URL = strings.TrimSpace(ref.URL)
	ref.PublicID = strings.TrimSpace(ref.PublicID)
	if ref.URL == "" || ref.PublicID == "" {
		return nil, fmt.Errorf("%w: url and public_id are required", models.ErrInvalidInput)
	}
	if ref.Bytes < 0 || ref.DurationMs < 0 {
		return nil, fmt.Errorf("%w: size and duration must not be negative", models.ErrInvalidInput)
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if adminID == "" {
		adminID = sess.HostAdminID
	}
	rec, created, err := s.store.InsertRecording(ctx, &models.Recording{
		ID:            uuid.New(),
		SessionID:     sessionID,
		AdminID:       adminID,
		ParticipantID: ref.ParticipantID,
		URL:           ref.URL,
		PublicID:      ref.PublicID,
		StorageKey:    ref.StorageKey,
		Bytes:         ref.Bytes,
		DurationMs:    ref.DurationMs,
		Format:        strings.ToLower(strings.TrimSpace(ref.Format)),
		CreatedAt:     s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("attach recording: %w", err)
	}
	if created {
		s.logger.Info("recording attached",
			zap.String("session_id", sessionID.String()), zap.String("public_id", rec.PublicID))
		if s.events != nil {
			s.events.Record(ctx, models.EventInput{
				SessionID: sessionID,
				Role:      "admin",
				Kind:      models.EventKindRecording,
				Payload:   map[string]interface{}{"recording_id": rec.ID.String(), "public_id": rec.PublicID, "bytes": rec.Bytes},
			})
		}
	}
	return rec, nil
}

// Get returns a recording by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return s.store.GetRecording(ctx, id)
}

// ListBySession returns a session's recordings, newest first.
func (s *Service) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	return s.store.ListRecordings(ctx, sessionID)
}

// DownloadURL signs a link for recordings copied into the bucket and returns
// the stored URL otherwise.
func (s *Service) DownloadURL(ctx context.Context, id uuid.UUID) (*Download, error) {
	rec, err := s.store.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.StorageKey == "" || s.s3 == nil {
		return &Download{URL: rec.URL}, nil
	}
	expire := s.s3.PresignExpire()
	url, err := s.s3.GeneratePresignedDownloadURL(ctx, s.s3.RecordingsBucket(), rec.StorageKey, expire)
	if err != nil {
		return nil, fmt.Errorf("presign recording: %w", err)
	}
	exp := s.now().Add(expire)
	return &Download{URL: url, ExpiresAt: &exp}, nil
}

// ObjectKey returns where the ingest worker stores a capture.
func ObjectKey(sessionID uuid.UUID, ref ExternalRef) string {
	return storage.RecordingKey(sessionID.String(), ref.PublicID, ref.Format)
}
