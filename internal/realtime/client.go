package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/participants"
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/pkg/response"
)

const (
	closeReasonReplaced = participants.CloseReasonReplaced
	maxMessageBytes     = 64 * 1024
	maxReactionRunes    = 16
	inboundTimeout      = 10 * time.Second
	// touchInterval throttles last_seen writes from chatty connections.
	touchInterval = 15 * time.Second
)

// ParticipantService is what the gateway needs from the participant registry.
type ParticipantService interface {
	Reconnect(ctx context.Context, key string) (*models.Participant, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	Heartbeat(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	Disconnect(ctx context.Context, id uuid.UUID, reason string)
}

// ChatService posts chat messages.
type ChatService interface {
	PostMessage(ctx context.Context, sessionID, participantID uuid.UUID, body string) (*models.ChatMessage, error)
}

// HandService raises and lowers hands.
type HandService interface {
	RaiseHand(ctx context.Context, sessionID, participantID uuid.UUID) (*models.HandRaise, error)
	LowerOwnHand(ctx context.Context, actor *models.Participant) (*models.HandRaise, error)
}

// SessionService reads sessions and arbitrates the screen share.
type SessionService interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	SetScreenShare(ctx context.Context, actor *models.Participant, active bool) (*sessions.ShareResult, error)
}

// Gateway upgrades signaling connections and dispatches inbound events.
type Gateway struct {
	hub          *Hub
	participants ParticipantService
	chat         ChatService
	hands        HandService
	sessions     SessionService
	upgrader     websocket.Upgrader
	logger       *zap.Logger
}

// NewGateway creates a gateway. An empty allowedOrigins accepts every origin.
func NewGateway(hub *Hub, p ParticipantService, chat ChatService, hands HandService, sessions SessionService, allowedOrigins []string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		hub:          hub,
		participants: p,
		chat:         chat,
		hands:        hands,
		sessions:     sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With(zap.String("component", "gateway")),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Client is a single signaling connection.
type Client struct {
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	participant   *models.Participant
	connectedAt   int64
	conn          *websocket.Conn
	send          chan Envelope
	quit          chan struct{}
	closeOnce     sync.Once
	mu            sync.Mutex
	reason        string
	lastTouch     time.Time // read goroutine only
}

func newClient(p *models.Participant, conn *websocket.Conn, connectedAt time.Time) *Client {
	return &Client{
		SessionID:     p.SessionID,
		ParticipantID: p.ID,
		participant:   p,
		connectedAt:   connectedAt.UnixMilli(),
		lastTouch:     connectedAt,
		conn:          conn,
		send:          make(chan Envelope, sendBuffer),
		quit:          make(chan struct{}),
	}
}

// enqueue reports false when the send buffer is full or the client is closing.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.quit)
	})
}

func (c *Client) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// ServeWs handles GET /live/ws?key=. The key is checked before the upgrade:
// any key failure is 401 and a participant still in the waiting room gets 403.
func (g *Gateway) ServeWs(c *gin.Context) {
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("X-Signaling-Key"))
	}
	if key == "" {
		httputil.RespondError(c, g.logger, models.ErrInvalidSignalingKey)
		return
	}
	p, err := g.participants.Reconnect(c.Request.Context(), key)
	if err != nil {
		httputil.RespondError(c, g.logger, err)
		return
	}
	if p.Waiting {
		response.Fail(c, http.StatusForbidden, "participant_waiting", models.ErrParticipantWaiting.Error())
		return
	}
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		g.participants.Disconnect(context.Background(), p.ID, "upgrade_failed")
		return
	}
	client := newClient(p, conn, g.hub.now())
	g.hub.Register(client)
	client.enqueue(Envelope{Event: "connected", Data: mustJSON(map[string]interface{}{
		"participant_id": p.ID,
		"session_id":     p.SessionID,
		"role":           p.Role,
	}), At: g.hub.now().UnixMilli()})
	go g.writePump(client)
	g.readPump(client)
}

func (g *Gateway) readPump(c *Client) {
	defer func() {
		c.close("")
		current := g.hub.Unregister(c)
		_ = c.conn.Close()
		if current {
			g.participants.Disconnect(context.Background(), c.ParticipantID, c.closeReason())
		}
	}()

	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
		g.touch(ctx, c)
		cancel()
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", zap.String("participant_id", c.ParticipantID.String()), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		g.dispatch(c, msg)
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			// Flush what was queued before the close, then say goodbye.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason()),
				time.Now().Add(writeWait))
			return
		}
	}
}

type chatPayload struct {
	Body string `json:"body"`
}

type reactionPayload struct {
	Emoji string `json:"emoji"`
}

type spotlightPayload struct {
	ParticipantID *uuid.UUID `json:"participant_id"`
}

type signalPayload struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

type sharePayload struct {
	Active bool `json:"active"`
}

func (g *Gateway) dispatch(c *Client, msg Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), inboundTimeout)
	defer cancel()
	p := c.participant

	if msg.Event == "ping" {
		if err := g.heartbeat(ctx, c); err != nil {
			g.replyError(c, msg.Event, err)
			return
		}
		g.reply(c, "pong", map[string]int64{"at": g.hub.now().UnixMilli()})
		return
	}
	g.touch(ctx, c)

	switch msg.Event {
	case "chat:message":
		var body chatPayload
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			g.replyError(c, msg.Event, models.ErrInvalidMessage)
			return
		}
		if _, err := g.chat.PostMessage(ctx, p.SessionID, p.ID, body.Body); err != nil {
			g.replyError(c, msg.Event, err)
		}
	case "hand:raise":
		if _, err := g.hands.RaiseHand(ctx, p.SessionID, p.ID); err != nil {
			g.replyError(c, msg.Event, err)
		}
	case "hand:lower":
		if _, err := g.hands.LowerOwnHand(ctx, p); err != nil {
			g.replyError(c, msg.Event, err)
		}
	case "reaction":
		var body reactionPayload
		_ = json.Unmarshal(msg.Data, &body)
		emoji := strings.TrimSpace(body.Emoji)
		if emoji == "" || utf8.RuneCountInString(emoji) > maxReactionRunes {
			g.replyError(c, msg.Event, models.ErrInvalidInput)
			return
		}
		g.hub.PublishToSession(p.SessionID, "reaction", map[string]interface{}{
			"participant_id": p.ID,
			"display_name":   p.DisplayName,
			"emoji":          emoji,
		})
	case "spotlight":
		if !p.IsInstructor() {
			g.replyError(c, msg.Event, models.ErrForbidden)
			return
		}
		var body spotlightPayload
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			g.replyError(c, msg.Event, models.ErrInvalidInput)
			return
		}
		g.hub.PublishToSession(p.SessionID, "spotlight", body)
	case "signal":
		var body signalPayload
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			g.replyError(c, msg.Event, models.ErrInvalidInput)
			return
		}
		target, err := uuid.Parse(body.Target)
		if err != nil || target == p.ID {
			g.replyError(c, msg.Event, models.ErrInvalidInput)
			return
		}
		if !g.reachable(ctx, p.SessionID, target) {
			g.reply(c, "target-unavailable", map[string]string{"target": body.Target})
			return
		}
		g.hub.SendToParticipant(p.SessionID, target, "signal", map[string]interface{}{
			"from":    p.ID,
			"payload": body.Payload,
		})
	case "share:state":
		var body sharePayload
		if err := json.Unmarshal(msg.Data, &body); err != nil {
			g.replyError(c, msg.Event, models.ErrInvalidInput)
			return
		}
		res, err := g.sessions.SetScreenShare(ctx, p, body.Active)
		switch {
		case errors.Is(err, models.ErrScreenShareDisabled):
			g.reply(c, "share:denied", map[string]interface{}{"reason": "disabled"})
		case errors.Is(err, models.ErrScreenShareBusy):
			denied := map[string]interface{}{"reason": "already-active"}
			if res != nil && res.Owner != nil {
				denied["owner"] = res.Owner
			}
			g.reply(c, "share:denied", denied)
		case err != nil:
			g.replyError(c, msg.Event, err)
		}
	case "session:state":
		sess, err := g.sessions.GetSession(ctx, p.SessionID)
		if err != nil {
			g.replyError(c, msg.Event, err)
			return
		}
		g.reply(c, "session:update", sess.View())
	default:
		g.replyError(c, msg.Event, models.ErrInvalidInput)
	}
}

// heartbeat refreshes presence unconditionally.
func (g *Gateway) heartbeat(ctx context.Context, c *Client) error {
	if _, err := g.participants.Heartbeat(ctx, c.ParticipantID); err != nil {
		return err
	}
	c.lastTouch = g.hub.now()
	return nil
}

// touch refreshes presence at most once per touchInterval.
func (g *Gateway) touch(ctx context.Context, c *Client) {
	if !c.lastTouch.IsZero() && g.hub.now().Sub(c.lastTouch) < touchInterval {
		return
	}
	if err := g.heartbeat(ctx, c); err != nil {
		g.logger.Debug("presence refresh failed", zap.String("participant_id", c.ParticipantID.String()), zap.Error(err))
	}
}

// reachable reports whether a signal to target can be delivered. A target on
// another instance is known only through its stored presence.
func (g *Gateway) reachable(ctx context.Context, sessionID, target uuid.UUID) bool {
	if g.hub.Connected(sessionID, target) {
		return true
	}
	if !g.hub.Distributed() {
		return false
	}
	p, err := g.participants.Get(ctx, target)
	if err != nil {
		return false
	}
	return p.SessionID == sessionID && p.Connected && !p.Waiting
}

func (g *Gateway) reply(c *Client, event string, payload interface{}) {
	data, err := marshal(payload)
	if err != nil {
		return
	}
	c.enqueue(Envelope{Event: event, Data: data, At: g.hub.now().UnixMilli()})
}

func (g *Gateway) replyError(c *Client, event string, err error) {
	status, code := httputil.Classify(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("inbound event failed", zap.String("event", event),
			zap.String("participant_id", c.ParticipantID.String()), zap.Error(err))
	}
	g.reply(c, "error", map[string]string{
		"event":   event,
		"code":    code,
		"message": httputil.Message(err),
	})
}

func mustJSON(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
