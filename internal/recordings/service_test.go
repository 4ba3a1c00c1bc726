package recordings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type presigner struct {
	bucket string
	key    string
}

func (p *presigner) GeneratePresignedDownloadURL(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	p.bucket, p.key = bucket, key
	return "https://signed.example/" + key, nil
}

func (p *presigner) RecordingsBucket() string     { return "recordings-bucket" }
func (p *presigner) PresignExpire() time.Duration { return 15 * time.Minute }

func newSession(t *testing.T, store *memory.Store) *models.Session {
	t.Helper()
	s := &models.Session{ID: uuid.New(), CourseID: "c", HostAdminID: "admin-1", Status: models.SessionStatusEnded}
	require.NoError(t, store.CreateSession(context.Background(), s))
	return s
}

func TestAttachRecordingIsIdempotent(t *testing.T) {
	store := memory.New()
	svc := NewService(store, store, nil, nil, nil)
	sess := newSession(t, store)
	ctx := context.Background()
	ref := ExternalRef{URL: " https://cdn.example/a.mp4 ", PublicID: "cap-1", Bytes: 2048, DurationMs: 60000, Format: "MP4"}

	first, err := svc.AttachRecording(ctx, sess.ID, "", ref)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", first.AdminID, "defaults to the session host")
	assert.Equal(t, "https://cdn.example/a.mp4", first.URL)
	assert.Equal(t, "mp4", first.Format)

	ref.Bytes = 9999
	second, err := svc.AttachRecording(ctx, sess.ID, "other", ref)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2048), second.Bytes)

	list, err := svc.ListBySession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAttachRecordingValidation(t *testing.T) {
	store := memory.New()
	svc := NewService(store, store, nil, nil, nil)
	sess := newSession(t, store)
	ctx := context.Background()

	_, err := svc.AttachRecording(ctx, sess.ID, "", ExternalRef{PublicID: "x"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.AttachRecording(ctx, sess.ID, "", ExternalRef{URL: "https://x", PublicID: "x", Bytes: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = svc.AttachRecording(ctx, uuid.New(), "", ExternalRef{URL: "https://x", PublicID: "x"})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestDownloadURL(t *testing.T) {
	store := memory.New()
	signer := &presigner{}
	svc := NewService(store, store, nil, signer, nil)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	sess := newSession(t, store)
	ctx := context.Background()

	external, err := svc.AttachRecording(ctx, sess.ID, "", ExternalRef{URL: "https://cdn.example/a.mp4", PublicID: "a"})
	require.NoError(t, err)
	d, err := svc.DownloadURL(ctx, external.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a.mp4", d.URL)
	assert.Nil(t, d.ExpiresAt)

	ref := ExternalRef{URL: "https://cdn.example/b.webm", PublicID: "b/1", Format: "webm"}
	ref.StorageKey = ObjectKey(sess.ID, ref)
	stored, err := svc.AttachRecording(ctx, sess.ID, "", ref)
	require.NoError(t, err)
	d, err = svc.DownloadURL(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "recordings-bucket", signer.bucket)
	assert.Equal(t, "recordings/"+sess.ID.String()+"/b_1.webm", signer.key)
	require.NotNil(t, d.ExpiresAt)
	assert.Equal(t, now.Add(15*time.Minute), *d.ExpiresAt)

	_, err = svc.DownloadURL(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
}
