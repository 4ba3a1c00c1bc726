// Package realtime is the signaling gateway: per-session WebSocket fan-out
// with optional Redis pub/sub so every instance sees every message.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// Control events travel the same channel as client events but are consumed by the hub.
const (
	controlDisconnect = "control:disconnect"
	controlEnd        = "control:end"
)

// Envelope is the unit of fan-out. Target, when set, is the only participant
// that receives it.
type Envelope struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Target string          `json:"target,omitempty"`
	At     int64           `json:"at"` // unix milliseconds
}

// Publisher sends envelopes to every instance subscribed to a session.
type Publisher interface {
	PublishSession(sessionID uuid.UUID, body []byte) error
}

// Subscriber delivers envelopes published for a session.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(body []byte)) (cancel func(), err error)
}

// Hub maintains session_id -> participant_id -> connection.
type Hub struct {
	sessions    map[uuid.UUID]map[uuid.UUID]*Client
	subs        map[uuid.UUID]func()
	subscribing map[uuid.UUID]bool
	mu          sync.RWMutex
	pub         Publisher
	sub         Subscriber
	logger      *zap.Logger
	now         func() time.Time
}

// NewHub creates a hub. pub and sub are nil for a single instance.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions:    make(map[uuid.UUID]map[uuid.UUID]*Client),
		subs:        make(map[uuid.UUID]func()),
		subscribing: make(map[uuid.UUID]bool),
		pub:         pub,
		sub:         sub,
		logger:      logger.With(zap.String("component", "hub")),
		now:         time.Now,
	}
}

// Register adds a connection. An older connection for the same participant
// is closed. A session with local connections but no channel subscription
// subscribes now; a failed attempt is retried by the next Register or publish.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	clients := h.sessions[c.SessionID]
	if clients == nil {
		clients = make(map[uuid.UUID]*Client)
		h.sessions[c.SessionID] = clients
	}
	old := clients[c.ParticipantID]
	clients[c.ParticipantID] = c
	h.mu.Unlock()

	h.ensureSubscribed(c.SessionID)
	metrics.OpenConnections.Inc()
	if old != nil && old != c {
		old.close(closeReasonReplaced)
	}
	h.logger.Debug("client connected", zap.String("session_id", c.SessionID.String()), zap.String("participant_id", c.ParticipantID.String()))
}

// ensureSubscribed subscribes to the session channel outside the hub lock.
// Only one attempt per session runs at a time.
func (h *Hub) ensureSubscribed(sessionID uuid.UUID) {
	if h.sub == nil {
		return
	}
	h.mu.Lock()
	_, done := h.subs[sessionID]
	if done || h.subscribing[sessionID] || len(h.sessions[sessionID]) == 0 {
		h.mu.Unlock()
		return
	}
	h.subscribing[sessionID] = true
	h.mu.Unlock()

	cancel, err := h.sub.SubscribeSession(sessionID, func(body []byte) {
		var env Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			h.logger.Warn("invalid envelope", zap.String("session_id", sessionID.String()), zap.Error(err))
			return
		}
		h.deliver(sessionID, env)
	})

	h.mu.Lock()
	delete(h.subscribing, sessionID)
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("session subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	if len(h.sessions[sessionID]) == 0 {
		// Everyone left while the subscription was being set up.
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[sessionID] = cancel
	h.mu.Unlock()
}

// Unregister removes a connection if it is still the current one for its
// participant. It reports whether the connection was current.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	current := false
	if clients, ok := h.sessions[c.SessionID]; ok {
		if clients[c.ParticipantID] == c {
			delete(clients, c.ParticipantID)
			current = true
		}
		if len(clients) == 0 {
			delete(h.sessions, c.SessionID)
			if cancel, ok := h.subs[c.SessionID]; ok {
				cancel()
				delete(h.subs, c.SessionID)
			}
		}
	}
	h.mu.Unlock()
	metrics.OpenConnections.Dec()
	h.logger.Debug("client disconnected", zap.String("session_id", c.SessionID.String()), zap.String("participant_id", c.ParticipantID.String()))
	return current
}

// PublishToSession sends an event to every participant connected to the session.
func (h *Hub) PublishToSession(sessionID uuid.UUID, event string, payload interface{}) {
	h.publish(sessionID, event, "", payload)
}

// SendToParticipant sends an event to one participant.
func (h *Hub) SendToParticipant(sessionID, participantID uuid.UUID, event string, payload interface{}) {
	h.publish(sessionID, event, participantID.String(), payload)
}

// DisconnectParticipant closes a participant's connection on whichever instance holds it.
func (h *Hub) DisconnectParticipant(sessionID, participantID uuid.UUID, reason string) {
	h.publish(sessionID, controlDisconnect, participantID.String(), map[string]string{"reason": reason})
}

// DisconnectSession closes every connection of the session on all instances.
func (h *Hub) DisconnectSession(sessionID uuid.UUID, reason string) {
	h.publish(sessionID, controlEnd, "", map[string]string{"reason": reason})
}

// Connected reports whether the participant has a connection on this instance.
func (h *Hub) Connected(sessionID, participantID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[sessionID][participantID]
	return ok
}

// Distributed reports whether envelopes also reach other instances.
func (h *Hub) Distributed() bool { return h.pub != nil && h.sub != nil }

// ConnectionCount returns the number of local connections for a session.
func (h *Hub) ConnectionCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Close drops every Redis subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.subs {
		cancel()
		delete(h.subs, id)
	}
}

// publish goes through Redis when available so the subscriber delivers once on
// every instance, this one included. Without a live subscription it delivers locally.
func (h *Hub) publish(sessionID uuid.UUID, event, target string, payload interface{}) {
	data, err := marshal(payload)
	if err != nil {
		h.logger.Warn("payload not encodable", zap.String("event", event), zap.Error(err))
		return
	}
	env := Envelope{Event: event, Data: data, Target: target, At: h.now().UnixMilli()}
	if h.pub != nil {
		h.ensureSubscribed(sessionID)
		body, err := json.Marshal(env)
		if err == nil {
			err = h.pub.PublishSession(sessionID, body)
		}
		if err == nil && h.subscribed(sessionID) {
			return
		}
		if err != nil {
			h.logger.Warn("redis publish failed, delivering locally", zap.String("event", event), zap.Error(err))
		}
	}
	h.deliver(sessionID, env)
}

func (h *Hub) subscribed(sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[sessionID]
	return ok
}

// deliver hands an envelope to local connections.
func (h *Hub) deliver(sessionID uuid.UUID, env Envelope) {
	h.mu.RLock()
	var targets []*Client
	if env.Target != "" {
		if pid, err := uuid.Parse(env.Target); err == nil {
			if c := h.sessions[sessionID][pid]; c != nil {
				targets = append(targets, c)
			}
		}
	} else {
		for _, c := range h.sessions[sessionID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	switch env.Event {
	case controlDisconnect:
		reason := reasonOf(env.Data)
		for _, c := range targets {
			// A connection opened after the request was made belongs to the new key.
			if c.connectedAt > env.At {
				continue
			}
			c.enqueue(Envelope{Event: "disconnected", Data: env.Data, At: env.At})
			c.close(reason)
		}
	case controlEnd:
		reason := reasonOf(env.Data)
		for _, c := range targets {
			c.enqueue(Envelope{Event: "disconnected", Data: env.Data, At: env.At})
			c.close(reason)
		}
	default:
		env.Target = ""
		for _, c := range targets {
			if !c.enqueue(env) {
				h.logger.Debug("send buffer full, dropping message",
					zap.String("participant_id", c.ParticipantID.String()), zap.String("event", env.Event))
			}
		}
	}
}

func marshal(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func reasonOf(data json.RawMessage) string {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(data, &body)
	return body.Reason
}
