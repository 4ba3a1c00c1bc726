// Package participants tracks who is in a live session, how they
// re-authenticate, and the provider access they are handed.
package participants

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/provider"
	"github.com/aura-webinar/liveclass/pkg/idgen"
	"github.com/aura-webinar/liveclass/pkg/utils"
)

const (
	signalingKeyBytes = 32
	maxDisplayName    = 80

	// CloseReasonReplaced marks a socket closed because the same participant
	// joined again elsewhere. It must not mark the participant disconnected.
	CloseReasonReplaced = "replaced"
	CloseReasonKicked   = "kicked"
	CloseReasonLeft     = "left"
	CloseReasonWaiting  = "waiting"
)

// Store persists participants.
type Store interface {
	// UpsertParticipant inserts p. When p has an identity already present in
	// the session the existing row is updated in place and returned, so the
	// returned ID differs from p.ID.
	UpsertParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	GetParticipantByKeyHash(ctx context.Context, hash string) (*models.Participant, error)
	MarkParticipantReconnected(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error)
	HeartbeatParticipant(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error)
	// LeaveParticipant clears connected and waiting. A participant that was
	// still waiting gets revokedKeyHash so its key stops working.
	LeaveParticipant(ctx context.Context, id uuid.UUID, revokedKeyHash string, at time.Time) (*models.Participant, error)
	MarkParticipantDisconnected(ctx context.Context, id uuid.UUID, at time.Time) (*models.Participant, error)
	SetParticipantWaiting(ctx context.Context, id uuid.UUID, waiting bool, at time.Time) (*models.Participant, error)
	DeleteParticipant(ctx context.Context, id uuid.UUID) error
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
}

// Sessions is the part of the session service joins depend on.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, next models.SessionStatus) (*models.Session, error)
	BanIdentity(ctx context.Context, id uuid.UUID, identity string) (*models.Session, error)
	ReleaseScreenShare(ctx context.Context, sessionID, participantID uuid.UUID) error
}

// Rooms lazily creates the provider room binding.
type Rooms interface {
	EnsureRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error)
}

// EventRecorder appends to the audit log.
type EventRecorder interface {
	Record(ctx context.Context, in models.EventInput)
}

// Notifier reaches connected clients.
type Notifier interface {
	PublishToSession(sessionID uuid.UUID, event string, payload interface{})
	SendToParticipant(sessionID, participantID uuid.UUID, event string, payload interface{})
	DisconnectParticipant(sessionID, participantID uuid.UUID, reason string)
}

// Options configure provider access.
type Options struct {
	ICEServers []webrtc.ICEServer
	TokenTTL   time.Duration
}

// JoinInput is a join request. UserID is the authenticated platform account,
// empty for anonymous guests.
type JoinInput struct {
	SessionID    uuid.UUID
	Role         models.ParticipantRole
	DisplayName  string
	UserID       string
	HostSecret   string
	Passcode     string
	MeetingToken string
}

// Access is what a client needs to reach the media provider.
type Access struct {
	Provider   string             `json:"provider"`
	URL        string             `json:"url,omitempty"`
	Room       string             `json:"room,omitempty"`
	Token      string             `json:"token,omitempty"`
	ExpiresAt  *time.Time         `json:"expires_at,omitempty"`
	CanPublish bool               `json:"can_publish"`
	ICEServers []webrtc.ICEServer `json:"ice_servers"`
}

// JoinResult is returned once per join. SignalingKey is shown only here.
type JoinResult struct {
	Participant  *models.Participant `json:"participant"`
	SignalingKey string              `json:"signaling_key"`
	Session      *models.Session     `json:"-"`
	SessionView  *models.SessionView `json:"session"`
	Room         *models.Room        `json:"room,omitempty"`
	Access       *Access             `json:"access,omitempty"`
	Reused       bool                `json:"reused"`
}

// MediaCommand asks a participant's client to change a media track.
type MediaCommand struct {
	Kind   string `json:"kind"`   // audio, video or screen
	Action string `json:"action"` // mute, unmute or stop
}

// Valid reports whether the command names a known track and action.
func (m MediaCommand) Valid() bool {
	switch m.Kind {
	case "audio", "video", "screen":
	default:
		return false
	}
	switch m.Action {
	case "mute", "unmute", "stop":
		return true
	}
	return false
}

// Service implements the participant registry.
type Service struct {
	store    Store
	sessions Sessions
	rooms    Rooms
	provider provider.Client
	events   EventRecorder
	notifier Notifier
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a participant service.
func NewService(store Store, sessions Sessions, rooms Rooms, prov provider.Client, events EventRecorder, notifier Notifier, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prov == nil {
		prov = provider.Noop{}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 4 * time.Hour
	}
	return &Service{
		store:    store,
		sessions: sessions,
		rooms:    rooms,
		provider: prov,
		events:   events,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With(zap.String("component", "participants")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Join registers a participant and issues a fresh signaling key.
func (s *Service) Join(ctx context.Context, in JoinInput) (*JoinResult, error) {
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, in.Role)
	}
	sess, err := s.sessions.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionStatusEnded {
		return nil, models.ErrSessionEnded
	}

	var identity string
	waiting := false
	switch in.Role {
	case models.RoleInstructor:
		if !utils.SecureEqual(in.HostSecret, sess.HostSecret) {
			return nil, models.ErrInvalidHostSecret
		}
		identity = models.AdminIdentity(in.UserID)
		if sess.Status == models.SessionStatusScheduled {
			if sess, err = s.sessions.TransitionStatus(ctx, sess.ID, models.SessionStatusLive); err != nil {
				return nil, err
			}
		}
	case models.RoleStudent:
		if sess.Status != models.SessionStatusLive {
			return nil, models.ErrSessionNotLive
		}
		identity = models.UserIdentity(in.UserID)
		if sess.IsBanned(identity) {
			return nil, models.ErrParticipantBanned
		}
		if sess.Locked {
			return nil, models.ErrSessionLocked
		}
		if sess.HasPasscode() && !passcodeAccepted(sess, in.Passcode, in.MeetingToken) {
			return nil, models.ErrInvalidPasscode
		}
		waiting = sess.WaitingRoomEnabled
	}

	room, err := s.ensureRoom(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	key, err := idgen.GenerateToken(signalingKeyBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &models.Participant{
		ID:               uuid.New(),
		SessionID:        sess.ID,
		Role:             in.Role,
		DisplayName:      displayName(in.DisplayName, in.Role),
		SignalingKeyHash: utils.HashToken(key),
		Connected:        !waiting,
		Waiting:          waiting,
		JoinedAt:         now,
		LastSeenAt:       now,
	}
	if identity != "" {
		p.IdentityRef = &identity
	}
	if room != nil {
		p.RoomID = &room.ID
	}
	stored, err := s.store.UpsertParticipant(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("register participant: %w", err)
	}
	reused := stored.ID != p.ID
	if reused && s.notifier != nil {
		s.notifier.DisconnectParticipant(sess.ID, stored.ID, CloseReasonReplaced)
	}

	metrics.RecordJoin(string(stored.Role), stored.Waiting)
	s.record(ctx, stored, models.EventKindJoin, map[string]interface{}{
		"display_name": stored.DisplayName,
		"waiting":      stored.Waiting,
		"reused":       reused,
	})
	s.publish(sess.ID, "participant:joined", stored)
	s.logger.Info("participant joined",
		zap.String("session_id", sess.ID.String()),
		zap.String("participant_id", stored.ID.String()),
		zap.String("role", string(stored.Role)),
		zap.Bool("waiting", stored.Waiting),
		zap.Bool("reused", reused),
	)

	res := &JoinResult{Participant: stored, SignalingKey: key, Session: sess, SessionView: sess.View(), Room: room, Reused: reused}
	if !stored.Waiting {
		if res.Access, err = s.access(sess, room, stored); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Reconnect re-authenticates a signaling key and marks the participant
// connected. Every lookup failure is reported as ErrInvalidSignalingKey.
func (s *Service) Reconnect(ctx context.Context, key string) (*models.Participant, error) {
	p, sess, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionStatusEnded {
		return nil, models.ErrSessionEnded
	}
	updated, err := s.store.MarkParticipantReconnected(ctx, p.ID, s.now())
	if err != nil {
		if errors.Is(err, models.ErrParticipantNotFound) {
			metrics.ReconnectFailures.Inc()
			return nil, models.ErrInvalidSignalingKey
		}
		return nil, err
	}
	s.record(ctx, updated, models.EventKindReconnect, nil)
	return updated, nil
}

// Authenticate resolves a signaling key without touching the participant.
// Ended sessions still authenticate so history stays readable.
func (s *Service) Authenticate(ctx context.Context, key string) (*models.Participant, error) {
	p, _, err := s.lookup(ctx, key)
	return p, err
}

func (s *Service) lookup(ctx context.Context, key string) (*models.Participant, *models.Session, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		metrics.ReconnectFailures.Inc()
		return nil, nil, models.ErrInvalidSignalingKey
	}
	p, err := s.store.GetParticipantByKeyHash(ctx, utils.HashToken(key))
	if err != nil {
		if errors.Is(err, models.ErrParticipantNotFound) {
			metrics.ReconnectFailures.Inc()
			return nil, nil, models.ErrInvalidSignalingKey
		}
		return nil, nil, err
	}
	sess, err := s.sessions.GetSession(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			metrics.ReconnectFailures.Inc()
			return nil, nil, models.ErrInvalidSignalingKey
		}
		return nil, nil, err
	}
	return p, sess, nil
}

// Get returns a participant by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return s.store.GetParticipant(ctx, id)
}

// Heartbeat refreshes last_seen_at for a participant whose socket is open and
// marks it connected again unless it is waiting.
func (s *Service) Heartbeat(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return s.store.HeartbeatParticipant(ctx, id, s.now())
}

// Leave marks the participant gone. The record is kept until retention. A
// participant that leaves the waiting room withdraws its request: its key is
// revoked and a new join starts over.
func (s *Service) Leave(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	revoked, err := idgen.GenerateToken(signalingKeyBytes)
	if err != nil {
		return nil, err
	}
	p, err := s.store.LeaveParticipant(ctx, id, utils.HashToken(revoked), s.now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, p, models.EventKindLeave, nil)
	s.releaseShare(ctx, p)
	s.publish(p.SessionID, "participant:left", participantRef(p))
	if s.notifier != nil {
		s.notifier.DisconnectParticipant(p.SessionID, p.ID, CloseReasonLeft)
	}
	return p, nil
}

// Disconnect handles a closed signaling socket.
func (s *Service) Disconnect(ctx context.Context, id uuid.UUID, reason string) {
	switch reason {
	case CloseReasonReplaced, CloseReasonKicked, CloseReasonLeft, CloseReasonWaiting:
		return
	}
	p, err := s.store.MarkParticipantDisconnected(ctx, id, s.now())
	if err != nil {
		if !errors.Is(err, models.ErrParticipantNotFound) {
			s.logger.Warn("mark disconnected failed", zap.String("participant_id", id.String()), zap.Error(err))
		}
		return
	}
	s.record(ctx, p, models.EventKindDisconnect, map[string]string{"reason": reason})
	s.releaseShare(ctx, p)
	s.publish(p.SessionID, "participant:left", participantRef(p))
}

// SetWaiting moves a student into or out of the waiting room.
func (s *Service) SetWaiting(ctx context.Context, sessionID, id uuid.UUID, waiting bool) (*models.Participant, error) {
	p, err := s.inSession(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}
	if p.IsInstructor() && waiting {
		return nil, fmt.Errorf("%w: instructors cannot wait", models.ErrInvalidInput)
	}
	if p.Waiting == waiting {
		return p, nil
	}
	updated, err := s.store.SetParticipantWaiting(ctx, id, waiting, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(sessionID, "participant:updated", updated)
	if waiting {
		s.releaseShare(ctx, updated)
	}
	if waiting && s.notifier != nil {
		s.notifier.DisconnectParticipant(sessionID, id, CloseReasonWaiting)
	}
	return updated, nil
}

// Admit lets a waiting participant in and pushes provider access to it.
func (s *Service) Admit(ctx context.Context, sessionID, id uuid.UUID) (*models.Participant, error) {
	p, err := s.inSession(ctx, sessionID, id)
	if err != nil {
		return nil, err
	}
	if !p.Waiting {
		return p, nil
	}
	updated, err := s.store.SetParticipantWaiting(ctx, id, false, s.now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, updated, models.EventKindAdmit, nil)
	s.publish(sessionID, "participant:updated", updated)
	if s.notifier != nil {
		if access, err := s.IssueAccess(ctx, updated); err == nil {
			s.notifier.SendToParticipant(sessionID, id, "participant:admitted", access)
		}
	}
	return updated, nil
}

// Deny removes a waiting participant.
func (s *Service) Deny(ctx context.Context, sessionID, id uuid.UUID) error {
	p, err := s.inSession(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteParticipant(ctx, id); err != nil {
		return err
	}
	s.record(ctx, p, models.EventKindDeny, nil)
	if s.notifier != nil {
		s.notifier.SendToParticipant(sessionID, id, "participant:denied", participantRef(p))
		s.notifier.DisconnectParticipant(sessionID, id, CloseReasonKicked)
	}
	s.publish(sessionID, "participant:left", participantRef(p))
	return nil
}

// Kick removes a participant and optionally bans its identity.
func (s *Service) Kick(ctx context.Context, sessionID, id uuid.UUID, ban bool) error {
	p, err := s.inSession(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if p.IsInstructor() {
		return fmt.Errorf("%w: instructors cannot be removed", models.ErrForbidden)
	}
	if err := s.store.DeleteParticipant(ctx, id); err != nil {
		return err
	}
	if ban && p.Identity() != "" {
		if _, err := s.sessions.BanIdentity(ctx, sessionID, p.Identity()); err != nil {
			s.logger.Error("ban identity failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	s.record(ctx, p, models.EventKindKick, map[string]bool{"ban": ban})
	s.releaseShare(ctx, p)
	if s.notifier != nil {
		s.notifier.SendToParticipant(sessionID, id, "participant:kicked", map[string]bool{"ban": ban})
		s.notifier.DisconnectParticipant(sessionID, id, CloseReasonKicked)
	}
	s.publish(sessionID, "participant:left", participantRef(p))
	return nil
}

// CommandMedia asks a participant's client to mute, unmute or stop a track.
func (s *Service) CommandMedia(ctx context.Context, sessionID, id uuid.UUID, cmd MediaCommand) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: unknown media command %s/%s", models.ErrInvalidInput, cmd.Kind, cmd.Action)
	}
	p, err := s.inSession(ctx, sessionID, id)
	if err != nil {
		return err
	}
	s.record(ctx, p, models.EventKindMedia, cmd)
	if cmd.Kind == "screen" && cmd.Action == "stop" {
		s.releaseShare(ctx, p)
	}
	if s.notifier != nil {
		s.notifier.SendToParticipant(sessionID, id, "participant:command", cmd)
	}
	return nil
}

// ListAttendance returns every participant record of a session.
func (s *Service) ListAttendance(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, sessionID)
}

// IssueAccess mints fresh provider access for an admitted participant.
func (s *Service) IssueAccess(ctx context.Context, p *models.Participant) (*Access, error) {
	if p.Waiting {
		return nil, models.ErrParticipantWaiting
	}
	sess, err := s.sessions.GetSession(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionStatusEnded {
		return nil, models.ErrSessionEnded
	}
	room, err := s.ensureRoom(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return s.access(sess, room, p)
}

func (s *Service) access(sess *models.Session, room *models.Room, p *models.Participant) (*Access, error) {
	canPublish := p.IsInstructor() || sess.StudentCanPublish()
	a := &Access{
		Provider:   s.provider.Name(),
		URL:        s.provider.URL(),
		CanPublish: canPublish,
		ICEServers: s.opts.ICEServers,
	}
	if a.ICEServers == nil {
		a.ICEServers = []webrtc.ICEServer{}
	}
	if room == nil {
		return a, nil
	}
	a.Room = room.ProviderRoom
	token, err := s.provider.AccessToken(provider.Grant{
		Room:       room.ProviderRoom,
		Identity:   p.ID.String(),
		Name:       p.DisplayName,
		CanPublish: canPublish,
		TTL:        s.opts.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("provider token: %w", err)
	}
	if token != "" {
		a.Token = token
		exp := s.now().Add(s.opts.TokenTTL)
		a.ExpiresAt = &exp
	}
	return a, nil
}

// ensureRoom returns nil without error when no room service is wired.
func (s *Service) ensureRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error) {
	if s.rooms == nil {
		return nil, nil
	}
	room, err := s.rooms.EnsureRoom(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ensure room: %w", err)
	}
	return room, nil
}

func (s *Service) inSession(ctx context.Context, sessionID, id uuid.UUID) (*models.Participant, error) {
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.SessionID != sessionID {
		return nil, models.ErrParticipantNotFound
	}
	return p, nil
}

// releaseShare frees the screen share if p holds it.
func (s *Service) releaseShare(ctx context.Context, p *models.Participant) {
	if err := s.sessions.ReleaseScreenShare(ctx, p.SessionID, p.ID); err != nil {
		s.logger.Warn("release screen share failed", zap.String("participant_id", p.ID.String()), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, p *models.Participant, kind string, payload interface{}) {
	if s.events == nil {
		return
	}
	pid := p.ID
	s.events.Record(ctx, models.EventInput{
		SessionID:     p.SessionID,
		ParticipantID: &pid,
		Role:          string(p.Role),
		Kind:          kind,
		Payload:       payload,
	})
}

func (s *Service) publish(sessionID uuid.UUID, event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.PublishToSession(sessionID, event, payload)
	}
}

func participantRef(p *models.Participant) map[string]interface{} {
	return map[string]interface{}{
		"participant_id": p.ID,
		"role":           p.Role,
		"display_name":   p.DisplayName,
	}
}

// passcodeAccepted checks the meeting token first (constant time), then the
// bcrypt passcode.
func passcodeAccepted(sess *models.Session, passcode, meetingToken string) bool {
	if utils.SecureEqual(strings.TrimSpace(meetingToken), sess.MeetingToken) {
		return true
	}
	return utils.CheckPassword(strings.TrimSpace(passcode), sess.PasscodeHash)
}

func displayName(name string, role models.ParticipantRole) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		if role == models.RoleInstructor {
			return "Instructor"
		}
		return "Guest"
	}
	if utf8.RuneCountInString(name) > maxDisplayName {
		name = string([]rune(name)[:maxDisplayName])
	}
	return name
}
