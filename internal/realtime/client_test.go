package realtime

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
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/internal/store/memory"
)

type presence struct {
	mu         sync.Mutex
	heartbeats int
	known      map[uuid.UUID]*models.Participant
}

func (p *presence) Reconnect(context.Context, string) (*models.Participant, error) {
	return nil, models.ErrInvalidSignalingKey
}

func (p *presence) Get(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if found, ok := p.known[id]; ok {
		return found, nil
	}
	return nil, models.ErrParticipantNotFound
}

func (p *presence) Heartbeat(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heartbeats++
	return &models.Participant{ID: id, Connected: true}, nil
}

func (p *presence) Disconnect(context.Context, uuid.UUID, string) {}

func (p *presence) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heartbeats
}

type chatSink struct{ bodies []string }

func (c *chatSink) PostMessage(_ context.Context, _, _ uuid.UUID, body string) (*models.ChatMessage, error) {
	c.bodies = append(c.bodies, body)
	return &models.ChatMessage{Body: body}, nil
}

type gatewayFixture struct {
	gw       *Gateway
	hub      *Hub
	presence *presence
	sessions *sessions.Service
	now      time.Time
}

func newGatewayFixture(t *testing.T, pub Publisher, sub Subscriber) *gatewayFixture {
	t.Helper()
	f := &gatewayFixture{now: time.Unix(1_700_000_000, 0)}
	f.hub = NewHub(nil, pub, sub)
	f.hub.now = func() time.Time { return f.now }
	store := memory.New()
	f.sessions = sessions.NewService(store, nil, store, store, nil, f.hub, nil)
	f.presence = &presence{known: make(map[uuid.UUID]*models.Participant)}
	f.gw = NewGateway(f.hub, f.presence, &chatSink{}, nil, f.sessions, nil, nil)
	return f
}

func (f *gatewayFixture) liveSession(t *testing.T, allowStudentShare bool) *models.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.CreateSession(ctx, sessions.CreateInput{CourseID: "go-101", HostAdminID: "1", AllowStudentScreenShare: allowStudentShare})
	require.NoError(t, err)
	sess, err = f.sessions.Start(ctx, sess.ID)
	require.NoError(t, err)
	return sess
}

func (f *gatewayFixture) connect(sessionID uuid.UUID, role models.ParticipantRole) *Client {
	c := newClient(&models.Participant{ID: uuid.New(), SessionID: sessionID, Role: role, Connected: true}, nil, f.now)
	f.hub.Register(c)
	return c
}

func event(name, data string) Envelope {
	env := Envelope{Event: name}
	if data != "" {
		env.Data = json.RawMessage(data)
	}
	return env
}

func find(envs []Envelope, name string) (Envelope, bool) {
	for _, env := range envs {
		if env.Event == name {
			return env, true
		}
	}
	return Envelope{}, false
}

func TestInboundEventsRefreshPresence(t *testing.T) {
	f := newGatewayFixture(t, nil, nil)
	c := f.connect(uuid.New(), models.RoleStudent)

	f.gw.dispatch(c, event("chat:message", `{"body":"hi"}`))
	assert.Equal(t, 0, f.presence.count(), "joined moments ago")

	f.now = f.now.Add(touchInterval)
	f.gw.dispatch(c, event("chat:message", `{"body":"again"}`))
	assert.Equal(t, 1, f.presence.count())
	f.gw.dispatch(c, event("reaction", `{"emoji":"👍"}`))
	assert.Equal(t, 1, f.presence.count(), "throttled within the interval")

	f.gw.dispatch(c, event("ping", ""))
	assert.Equal(t, 2, f.presence.count(), "ping always refreshes")
	_, ok := find(drain(c), "pong")
	assert.True(t, ok)
}

func TestSignalToAbsentTargetIsReported(t *testing.T) {
	f := newGatewayFixture(t, nil, nil)
	sessionID := uuid.New()
	a := f.connect(sessionID, models.RoleStudent)
	b := f.connect(sessionID, models.RoleInstructor)
	gone := uuid.New()

	f.gw.dispatch(a, event("signal", `{"target":"`+gone.String()+`","payload":{"sdp":"x"}}`))
	reply, ok := find(drain(a), "target-unavailable")
	require.True(t, ok)
	assert.JSONEq(t, `{"target":"`+gone.String()+`"}`, string(reply.Data))

	f.gw.dispatch(a, event("signal", `{"target":"`+b.ParticipantID.String()+`","payload":{"sdp":"x"}}`))
	got, ok := find(drain(b), "signal")
	require.True(t, ok)
	assert.JSONEq(t, `{"from":"`+a.ParticipantID.String()+`","payload":{"sdp":"x"}}`, string(got.Data))
	assert.Empty(t, drain(a))
}

func TestSignalToRemoteTargetUsesStoredPresence(t *testing.T) {
	bus := newLoopback()
	f := newGatewayFixture(t, bus, bus)
	sessionID := uuid.New()
	a := f.connect(sessionID, models.RoleStudent)
	remote := &models.Participant{ID: uuid.New(), SessionID: sessionID, Connected: true}
	f.presence.known[remote.ID] = remote

	f.gw.dispatch(a, event("signal", `{"target":"`+remote.ID.String()+`","payload":{}}`))
	assert.Equal(t, 1, bus.sent)
	_, unavailable := find(drain(a), "target-unavailable")
	assert.False(t, unavailable)

	remote.Connected = false
	f.gw.dispatch(a, event("signal", `{"target":"`+remote.ID.String()+`","payload":{}}`))
	assert.Equal(t, 1, bus.sent)
	_, unavailable = find(drain(a), "target-unavailable")
	assert.True(t, unavailable)
}

func TestShareStateRefusesStudentsWhenDisabled(t *testing.T) {
	f := newGatewayFixture(t, nil, nil)
	sess := f.liveSession(t, false)
	pupil := f.connect(sess.ID, models.RoleStudent)

	f.gw.dispatch(pupil, event("share:state", `{"active":true}`))
	denied, ok := find(drain(pupil), "share:denied")
	require.True(t, ok)
	assert.JSONEq(t, `{"reason":"disabled"}`, string(denied.Data))

	cur, err := f.sessions.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Nil(t, cur.ScreenShareOwner)
}

func TestShareStateHostTakeover(t *testing.T) {
	f := newGatewayFixture(t, nil, nil)
	sess := f.liveSession(t, true)
	pupil := f.connect(sess.ID, models.RoleStudent)
	other := f.connect(sess.ID, models.RoleStudent)
	host := f.connect(sess.ID, models.RoleInstructor)

	f.gw.dispatch(pupil, event("share:state", `{"active":true}`))
	owner, ok := find(drain(host), "share:owner")
	require.True(t, ok)
	assert.JSONEq(t, `{"participant_id":"`+pupil.ParticipantID.String()+`"}`, string(owner.Data))
	drain(pupil)
	drain(other)

	f.gw.dispatch(other, event("share:state", `{"active":true}`))
	denied, ok := find(drain(other), "share:denied")
	require.True(t, ok)
	assert.JSONEq(t, `{"reason":"already-active","owner":"`+pupil.ParticipantID.String()+`"}`, string(denied.Data))

	f.gw.dispatch(host, event("share:state", `{"active":true}`))
	got := drain(pupil)
	cmd, ok := find(got, "participant:command")
	require.True(t, ok)
	assert.JSONEq(t, `{"kind":"screen","action":"stop"}`, string(cmd.Data))
	owner, ok = find(got, "share:owner")
	require.True(t, ok)
	assert.JSONEq(t, `{"participant_id":"`+host.ParticipantID.String()+`"}`, string(owner.Data))
	update, ok := find(got, "session:update")
	require.True(t, ok)
	assert.NotContains(t, string(update.Data), "banned_identities")
	drain(other)

	f.gw.dispatch(host, event("share:state", `{"active":false}`))
	owner, ok = find(drain(other), "share:owner")
	require.True(t, ok)
	assert.JSONEq(t, `{"participant_id":null}`, string(owner.Data))
}

func TestShareStateRejectsMalformedPayload(t *testing.T) {
	f := newGatewayFixture(t, nil, nil)
	sess := f.liveSession(t, true)
	c := f.connect(sess.ID, models.RoleStudent)

	f.gw.dispatch(c, event("share:state", ""))
	reply, ok := find(drain(c), "error")
	require.True(t, ok)
	assert.JSONEq(t, `{"event":"share:state","code":"invalid_input","message":"invalid input"}`, string(reply.Data))
}

// flakySubscriber fails the first `failures` subscribe attempts.
type flakySubscriber struct {
	*loopback
	failures int
	attempts int
}

func (f *flakySubscriber) SubscribeSession(sessionID uuid.UUID, handler func([]byte)) (func(), error) {
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("redis unavailable")
	}
	return f.loopback.SubscribeSession(sessionID, handler)
}

func TestFailedSubscribeRetriedOnNextRegister(t *testing.T) {
	bus := newLoopback()
	sub := &flakySubscriber{loopback: bus, failures: 1}
	hub := NewHub(nil, bus, sub)
	sessionID := uuid.New()
	a := testClient(sessionID, time.Now())
	b := testClient(sessionID, time.Now())

	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, sub.attempts)

	body, err := json.Marshal(Envelope{Event: "chat:message", Data: json.RawMessage(`{"body":"from elsewhere"}`)})
	require.NoError(t, err)
	require.NoError(t, bus.PublishSession(sessionID, body))
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)

	c := testClient(sessionID, time.Now())
	hub.Register(c)
	assert.Equal(t, 2, sub.attempts, "already subscribed")
}

func TestFailedSubscribeRetriedOnPublish(t *testing.T) {
	bus := newLoopback()
	sub := &flakySubscriber{loopback: bus, failures: 1}
	hub := NewHub(nil, bus, sub)
	sessionID := uuid.New()
	a := testClient(sessionID, time.Now())
	hub.Register(a)
	require.Equal(t, 1, sub.attempts)

	hub.PublishToSession(sessionID, "hand:queue", []string{})
	assert.Equal(t, 2, sub.attempts)
	assert.Equal(t, 1, bus.sent)
	assert.Len(t, drain(a), 1, "delivered once through the new subscription")
}
