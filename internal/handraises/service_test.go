package handraises

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type queueNotifier struct {
	mu     sync.Mutex
	queues [][]models.HandRaise
}

func (n *queueNotifier) PublishToSession(_ uuid.UUID, event string, payload interface{}) {
	if event != "hand:queue" {
		return
	}
	n.mu.Lock()
	n.queues = append(n.queues, payload.([]models.HandRaise))
	n.mu.Unlock()
}

func (n *queueNotifier) last() []models.HandRaise {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queues) == 0 {
		return nil
	}
	return n.queues[len(n.queues)-1]
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	notifier *queueNotifier
	session  *models.Session
	clock    time.Time
}

func newFixture(t *testing.T, status models.SessionStatus) *fixture {
	t.Helper()
	store := memory.New()
	f := &fixture{store: store, notifier: &queueNotifier{}, clock: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.session = &models.Session{ID: uuid.New(), CourseID: "c", Status: status, CreatedAt: f.clock}
	require.NoError(t, store.CreateSession(context.Background(), f.session))
	f.svc = NewService(store, store, store, nil, f.notifier, 24*time.Hour, nil)
	f.svc.SetClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	})
	return f
}

func (f *fixture) join(t *testing.T, role models.ParticipantRole, waiting bool) *models.Participant {
	t.Helper()
	p, err := f.store.UpsertParticipant(context.Background(), &models.Participant{
		ID: uuid.New(), SessionID: f.session.ID, Role: role, DisplayName: string(role),
		SignalingKeyHash: uuid.NewString(), Connected: !waiting, Waiting: waiting, JoinedAt: f.clock,
	})
	require.NoError(t, err)
	return p
}

func TestRaiseIsIdempotentAndOrdered(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	ctx := context.Background()
	a := f.join(t, models.RoleStudent, false)
	b := f.join(t, models.RoleStudent, false)

	ha, err := f.svc.RaiseHand(ctx, f.session.ID, a.ID)
	require.NoError(t, err)
	hb, err := f.svc.RaiseHand(ctx, f.session.ID, b.ID)
	require.NoError(t, err)
	again, err := f.svc.RaiseHand(ctx, f.session.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ha.ID, again.ID)
	assert.Len(t, f.notifier.queues, 2, "a repeated raise does not republish")

	queue, err := f.svc.ListQueue(ctx, f.session.ID)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, ha.ID, queue[0].ID)
	assert.Equal(t, hb.ID, queue[1].ID)
	assert.Equal(t, "student", queue[0].DisplayName)
}

func TestRaisePreconditions(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, models.SessionStatusScheduled)
	p := f.join(t, models.RoleStudent, false)
	_, err := f.svc.RaiseHand(ctx, f.session.ID, p.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotLive)

	f = newFixture(t, models.SessionStatusEnded)
	p = f.join(t, models.RoleStudent, false)
	_, err = f.svc.RaiseHand(ctx, f.session.ID, p.ID)
	assert.ErrorIs(t, err, models.ErrSessionEnded)

	f = newFixture(t, models.SessionStatusLive)
	waiting := f.join(t, models.RoleStudent, true)
	_, err = f.svc.RaiseHand(ctx, f.session.ID, waiting.ID)
	assert.ErrorIs(t, err, models.ErrParticipantWaiting)
	_, err = f.svc.RaiseHand(ctx, uuid.New(), waiting.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
	_, err = f.svc.RaiseHand(ctx, f.session.ID, uuid.New())
	assert.ErrorIs(t, err, models.ErrParticipantNotFound)
}

func TestLowerAndResolvePermissions(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	ctx := context.Background()
	owner := f.join(t, models.RoleStudent, false)
	other := f.join(t, models.RoleStudent, false)
	instructor := f.join(t, models.RoleInstructor, false)

	h, err := f.svc.RaiseHand(ctx, f.session.ID, owner.ID)
	require.NoError(t, err)

	_, err = f.svc.LowerHand(ctx, other, h.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = f.svc.ResolveHand(ctx, other, h.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	resolved, err := f.svc.ResolveHand(ctx, instructor, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HandResolved, resolved.State)
	assert.Empty(t, f.notifier.last())

	lowered, err := f.svc.LowerHand(ctx, owner, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HandResolved, lowered.State, "terminal hands are returned unchanged")

	h2, err := f.svc.RaiseHand(ctx, f.session.ID, owner.ID)
	require.NoError(t, err)
	assert.NotEqual(t, h.ID, h2.ID)
	own, err := f.svc.LowerOwnHand(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, models.HandLowered, own.State)
	_, err = f.svc.LowerOwnHand(ctx, owner)
	assert.ErrorIs(t, err, models.ErrHandRaiseNotFound)

	h3, err := f.svc.RaiseHand(ctx, f.session.ID, other.ID)
	require.NoError(t, err)
	byAdmin, err := f.svc.ResolveHand(ctx, nil, h3.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HandResolved, byAdmin.State)
}

func TestResolveAllRaised(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p := f.join(t, models.RoleStudent, false)
		_, err := f.svc.RaiseHand(ctx, f.session.ID, p.ID)
		require.NoError(t, err)
	}
	n, err := f.svc.ResolveAllRaised(ctx, f.session.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	queue, err := f.svc.ListQueue(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestQueueExcludesExpiredHands(t *testing.T) {
	f := newFixture(t, models.SessionStatusLive)
	ctx := context.Background()
	p := f.join(t, models.RoleStudent, false)
	_, err := f.svc.RaiseHand(ctx, f.session.ID, p.ID)
	require.NoError(t, err)

	f.clock = f.clock.Add(25 * time.Hour)
	queue, err := f.svc.ListQueue(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Empty(t, queue)
}
