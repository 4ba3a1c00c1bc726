package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type captured struct {
	mu       sync.Mutex
	messages []*models.ChatMessage
}

func (c *captured) PublishToSession(_ uuid.UUID, event string, payload interface{}) {
	if event != "chat:message" {
		return
	}
	c.mu.Lock()
	c.messages = append(c.messages, payload.(*models.ChatMessage))
	c.mu.Unlock()
}

type events struct {
	mu    sync.Mutex
	kinds []string
}

func (e *events) Record(_ context.Context, in models.EventInput) {
	e.mu.Lock()
	e.kinds = append(e.kinds, in.Kind)
	e.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	out     *captured
	events  *events
	session *models.Session
	clock   time.Time
}

func newFixture(t *testing.T, status models.SessionStatus, opts Options) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{store: store, out: &captured{}, events: &events{}, clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.session = &models.Session{ID: uuid.New(), CourseID: "c", Status: status, CreatedAt: f.clock}
	require.NoError(t, store.CreateSession(context.Background(), f.session))
	f.svc = NewService(store, store, store, f.events, f.out, opts, nil)
	f.svc.SetClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	})
	return f
}

func (f *fixture) join(t *testing.T, sessionID uuid.UUID, waiting bool) *models.Participant {
	t.Helper()
	p, err := f.store.UpsertParticipant(context.Background(), &models.Participant{
		ID: uuid.New(), SessionID: sessionID, Role: models.RoleStudent, DisplayName: "Kim",
		SignalingKeyHash: uuid.NewString(), Connected: !waiting, Waiting: waiting, JoinedAt: f.clock,
	})
	require.NoError(t, err)
	return p
}

func TestPostMessageSnapshotsSender(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive, Options{})
	ctx := context.Background()
	p := f.join(t, f.session.ID, false)

	msg, err := f.svc.PostMessage(ctx, f.session.ID, p.ID, "  hello class  ")
	require.NoError(t, err)
	assert.Equal(t, "hello class", msg.Body)
	assert.Equal(t, "Kim", msg.SenderDisplayName)
	assert.Equal(t, "student", msg.SenderRole)
	require.NotNil(t, msg.ParticipantID)
	assert.Equal(t, p.ID, *msg.ParticipantID)
	require.Len(t, f.out.messages, 1)
	assert.Equal(t, msg.ID, f.out.messages[0].ID)
	assert.Equal(t, []string{models.EventKindChat}, f.events.kinds)
}

func TestPostMessageValidationOrder(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, models.SessionStatusEnded, Options{MaxLength: 5})
	p := f.join(t, f.session.ID, false)
	_, err := f.svc.PostMessage(ctx, f.session.ID, p.ID, "   ")
	assert.ErrorIs(t, err, models.ErrInvalidMessage, "body is checked before session state")
	_, err = f.svc.PostMessage(ctx, f.session.ID, p.ID, "toolong")
	assert.ErrorIs(t, err, models.ErrInvalidMessage)
	_, err = f.svc.PostMessage(ctx, f.session.ID, p.ID, "héllo")
	assert.ErrorIs(t, err, models.ErrSessionEnded, "length counts characters, not bytes")

	f = newFixture(t, models.SessionStatusScheduled, Options{})
	p = f.join(t, f.session.ID, false)
	_, err = f.svc.PostMessage(ctx, f.session.ID, p.ID, "hi")
	assert.ErrorIs(t, err, models.ErrSessionNotLive)

	f = newFixture(t, models.SessionStatusLive, Options{})
	waiting := f.join(t, f.session.ID, true)
	_, err = f.svc.PostMessage(ctx, f.session.ID, waiting.ID, "hi")
	assert.ErrorIs(t, err, models.ErrParticipantWaiting)

	other := &models.Session{ID: uuid.New(), CourseID: "c", Status: models.SessionStatusLive}
	require.NoError(t, f.store.CreateSession(ctx, other))
	stranger := f.join(t, other.ID, false)
	_, err = f.svc.PostMessage(ctx, f.session.ID, stranger.ID, "hi")
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)
	assert.Empty(t, f.out.messages)
}

func TestListMessagesNewestPage(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive, Options{DefaultLimit: 2, MaxLimit: 3})
	ctx := context.Background()
	p := f.join(t, f.session.ID, false)
	for i := 1; i <= 5; i++ {
		_, err := f.svc.PostMessage(ctx, f.session.ID, p.ID, strings.Repeat("x", i))
		require.NoError(t, err)
	}

	page, err := f.svc.ListMessages(ctx, f.session.ID, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "xxxx", page[0].Body)
	assert.Equal(t, "xxxxx", page[1].Body)

	page, err = f.svc.ListMessages(ctx, f.session.ID, 100)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	_, err = f.svc.ListMessages(ctx, uuid.New(), 10)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestListMessagesAppliesRetention(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive, Options{Retention: time.Hour})
	ctx := context.Background()
	p := f.join(t, f.session.ID, false)
	_, err := f.svc.PostMessage(ctx, f.session.ID, p.ID, "old")
	require.NoError(t, err)
	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.PostMessage(ctx, f.session.ID, p.ID, "new")
	require.NoError(t, err)

	page, err := f.svc.ListMessages(ctx, f.session.ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "new", page[0].Body)
}

func TestPostSystemMessage(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive, Options{})
	ctx := context.Background()
	msg, err := f.svc.PostSystemMessage(ctx, f.session.ID, "Break for 5 minutes")
	require.NoError(t, err)
	assert.Equal(t, models.SenderRoleSystem, msg.SenderRole)
	assert.Nil(t, msg.ParticipantID)

	f = newFixture(t, models.SessionStatusEnded, Options{})
	_, err = f.svc.PostSystemMessage(ctx, f.session.ID, "late")
	assert.ErrorIs(t, err, models.ErrSessionEnded)
}
