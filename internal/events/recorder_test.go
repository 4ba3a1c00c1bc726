package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type failingStore struct {
	*memory.Store
	fail bool
}

func (f *failingStore) InsertEvent(ctx context.Context, e *models.Event) error {
	if f.fail {
		return errors.New("connection refused")
	}
	return f.Store.InsertEvent(ctx, e)
}

type retryQueue struct {
	mu     sync.Mutex
	queued []json.RawMessage
}

func (q *retryQueue) EnqueueEventRetry(_ context.Context, raw json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, raw)
	return nil
}

func TestRecordWritesSynchronouslyBeforeStart(t *testing.T) {
	store := memory.New()
	r := NewRecorder(store, nil, 8, nil)
	sessionID := uuid.New()
	pid := uuid.New()

	r.Record(context.Background(), models.EventInput{
		SessionID: sessionID, ParticipantID: &pid, Role: "student", Kind: models.EventKindJoin,
		Payload: map[string]string{"display_name": "Kim"},
	})

	list, err := r.List(context.Background(), sessionID, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ParticipantID)
	assert.Equal(t, pid.String(), *list[0].ParticipantID)
	assert.JSONEq(t, `{"display_name":"Kim"}`, string(list[0].Payload))
}

func TestStopFlushesBufferedEvents(t *testing.T) {
	store := memory.New()
	r := NewRecorder(store, nil, 64, nil)
	r.Start()
	sessionID := uuid.New()
	for i := 0; i < 20; i++ {
		r.Record(context.Background(), models.EventInput{SessionID: sessionID, Kind: models.EventKindChat})
	}
	r.Stop()
	r.Stop()

	list, err := r.List(context.Background(), sessionID, models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestFailedWriteGoesToRetryQueue(t *testing.T) {
	store := &failingStore{Store: memory.New(), fail: true}
	queue := &retryQueue{}
	r := NewRecorder(store, queue, 8, nil)
	sessionID := uuid.New()

	r.Record(context.Background(), models.EventInput{SessionID: sessionID, Kind: models.EventKindKick})
	require.Len(t, queue.queued, 1)

	store.fail = false
	require.NoError(t, r.Replay(context.Background(), queue.queued[0]))
	require.NoError(t, r.Replay(context.Background(), queue.queued[0]), "replay is idempotent")

	list, err := r.List(context.Background(), sessionID, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.EventKindKick, list[0].Kind)
}

func TestReplayRejectsIncompleteEvents(t *testing.T) {
	r := NewRecorder(memory.New(), nil, 8, nil)
	assert.Error(t, r.Replay(context.Background(), json.RawMessage(`not json`)))
	err := r.Replay(context.Background(), json.RawMessage(`{"id":"`+uuid.NewString()+`","kind":"join"}`))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestListFiltersAndClamps(t *testing.T) {
	store := memory.New()
	r := NewRecorder(store, nil, 8, nil)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := base
	r.SetClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	sessionID := uuid.New()
	for _, kind := range []string{models.EventKindJoin, models.EventKindChat, models.EventKindChat, models.EventKindLeave} {
		r.Record(context.Background(), models.EventInput{SessionID: sessionID, Kind: kind})
	}

	chats, err := r.List(context.Background(), sessionID, models.EventFilter{Kind: models.EventKindChat})
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.True(t, chats[0].CreatedAt.After(chats[1].CreatedAt), "newest first")

	since := base.Add(2 * time.Minute)
	until := base.Add(3 * time.Minute)
	window, err := r.List(context.Background(), sessionID, models.EventFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Len(t, window, 2, "both bounds are inclusive")

	_, err = r.List(context.Background(), sessionID, models.EventFilter{Since: &until, Until: &since})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	one, err := r.List(context.Background(), sessionID, models.EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, models.EventKindLeave, one[0].Kind)
}
