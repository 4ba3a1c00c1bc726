package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
)

func testClient(sessionID uuid.UUID, at time.Time) *Client {
	return newClient(&models.Participant{ID: uuid.New(), SessionID: sessionID, Role: models.RoleStudent}, nil, at)
}

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case env := <-c.send:
			out = append(out, env)
		default:
			return out
		}
	}
}

func closed(c *Client) bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// loopback is an in-process stand-in for Redis pub/sub.
type loopback struct {
	mu       sync.Mutex
	handlers map[uuid.UUID][]func([]byte)
	fail     bool
	sent     int
}

func newLoopback() *loopback { return &loopback{handlers: make(map[uuid.UUID][]func([]byte))} }

func (l *loopback) PublishSession(sessionID uuid.UUID, body []byte) error {
	l.mu.Lock()
	if l.fail {
		l.mu.Unlock()
		return errors.New("redis unavailable")
	}
	l.sent++
	hs := append([]func([]byte){}, l.handlers[sessionID]...)
	l.mu.Unlock()
	for _, h := range hs {
		h(body)
	}
	return nil
}

func (l *loopback) SubscribeSession(sessionID uuid.UUID, handler func([]byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[sessionID] = append(l.handlers[sessionID], handler)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.handlers, sessionID)
	}, nil
}

func TestPublishDeliversToEveryLocalClient(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := testClient(sessionID, time.Now())
	b := testClient(sessionID, time.Now())
	other := testClient(uuid.New(), time.Now())
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)

	hub.PublishToSession(sessionID, "chat:message", map[string]string{"body": "hi"})

	for _, c := range []*Client{a, b} {
		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, "chat:message", got[0].Event)
		assert.JSONEq(t, `{"body":"hi"}`, string(got[0].Data))
	}
	assert.Empty(t, drain(other))
}

func TestSendToParticipantTargetsOneClient(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := testClient(sessionID, time.Now())
	b := testClient(sessionID, time.Now())
	hub.Register(a)
	hub.Register(b)

	hub.SendToParticipant(sessionID, b.ParticipantID, "signal", map[string]string{"sdp": "x"})

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Target, "target is stripped before delivery")
}

func TestRegisterReplacesOlderConnection(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	first := testClient(sessionID, time.Now())
	second := newClient(first.participant, nil, time.Now())
	hub.Register(first)
	hub.Register(second)

	assert.True(t, closed(first))
	assert.Equal(t, closeReasonReplaced, first.closeReason())
	assert.False(t, closed(second))
	assert.Equal(t, 1, hub.ConnectionCount(sessionID))

	assert.False(t, hub.Unregister(first), "replaced connection is not current")
	assert.Equal(t, 1, hub.ConnectionCount(sessionID))
	assert.True(t, hub.Unregister(second))
	assert.Equal(t, 0, hub.ConnectionCount(sessionID))
}

func TestDisconnectParticipantSkipsNewerConnection(t *testing.T) {
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	hub := NewHub(nil, nil, nil)
	hub.now = func() time.Time { return now }
	sessionID := uuid.New()

	newer := testClient(sessionID, now.Add(time.Second))
	hub.Register(newer)
	hub.DisconnectParticipant(sessionID, newer.ParticipantID, "kicked")
	assert.False(t, closed(newer))

	older := testClient(sessionID, now.Add(-time.Second))
	hub.Register(older)
	hub.DisconnectParticipant(sessionID, older.ParticipantID, "kicked")
	assert.True(t, closed(older))
	assert.Equal(t, "kicked", older.closeReason())
	got := drain(older)
	require.Len(t, got, 1)
	assert.Equal(t, "disconnected", got[0].Event)
}

func TestDisconnectSessionClosesEveryone(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := testClient(sessionID, time.Now())
	b := testClient(sessionID, time.Now())
	hub.Register(a)
	hub.Register(b)

	hub.DisconnectSession(sessionID, "session_ended")

	for _, c := range []*Client{a, b} {
		assert.True(t, closed(c))
		assert.Equal(t, "session_ended", c.closeReason())
	}
}

func TestPubSubDeliversOnce(t *testing.T) {
	bus := newLoopback()
	hub := NewHub(nil, bus, bus)
	sessionID := uuid.New()
	c := testClient(sessionID, time.Now())
	hub.Register(c)

	hub.PublishToSession(sessionID, "hand:queue", []string{})
	assert.Equal(t, 1, bus.sent)
	assert.Len(t, drain(c), 1)

	bus.fail = true
	hub.PublishToSession(sessionID, "hand:queue", []string{})
	assert.Len(t, drain(c), 1, "falls back to local delivery")

	hub.Unregister(c)
	hub.Close()
	assert.Empty(t, bus.handlers)
}
