// Package sessions owns the live session lifecycle.
package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/idgen"
	"github.com/aura-webinar/liveclass/pkg/utils"
)

// maxTransitionAttempts bounds CAS retries. Status only moves forward through
// three states, so a caller can lose at most two races.
const maxTransitionAttempts = 3

// Store persists sessions.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListSessions(ctx context.Context, status models.SessionStatus, limit int) ([]models.Session, error)
	UpdateSession(ctx context.Context, id uuid.UUID, u models.SessionUpdate, at time.Time) (*models.Session, error)
	// SwapSessionStatus moves id from `from` to `to` only if the row is still
	// in `from`. ok is false when another writer got there first.
	SwapSessionStatus(ctx context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (s *models.Session, ok bool, err error)
	FindLiveSessionByCourse(ctx context.Context, keys []string) (*models.Session, error)
	BanIdentity(ctx context.Context, id uuid.UUID, identity string, at time.Time) (*models.Session, error)
	// SwapScreenShareOwner sets the owner to `to` only if it is still `from`.
	SwapScreenShareOwner(ctx context.Context, id uuid.UUID, from, to *uuid.UUID, at time.Time) (s *models.Session, ok bool, err error)
}

// RoomEnsurer creates the provider room binding when a session goes live.
type RoomEnsurer interface {
	EnsureRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error)
}

// ParticipantCloser marks every participant of a session disconnected.
type ParticipantCloser interface {
	DisconnectSessionParticipants(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)
}

// HandFlusher resolves pending hand raises.
type HandFlusher interface {
	ResolveRaisedHands(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)
}

// EventRecorder appends to the audit log without failing the caller.
type EventRecorder interface {
	Record(ctx context.Context, in models.EventInput)
}

// Notifier pushes state changes to connected clients.
type Notifier interface {
	PublishToSession(sessionID uuid.UUID, event string, payload interface{})
	SendToParticipant(sessionID, participantID uuid.UUID, event string, payload interface{})
	DisconnectSession(sessionID uuid.UUID, reason string)
}

// ShareResult is the outcome of a screen share request. Owner is the holder
// after the request, including when it was refused as busy. Displaced is the
// previous owner an instructor took over from.
type ShareResult struct {
	Session   *models.Session
	Owner     *uuid.UUID
	Displaced *uuid.UUID
}

// CreateInput is the data needed to schedule a session.
type CreateInput struct {
	CourseID                string
	CourseSlug              string
	CourseName              string
	Title                   string
	ScheduledStart          *time.Time
	ScheduledEnd            *time.Time
	HostAdminID             string
	HostDisplayName         string
	WaitingRoomEnabled      bool
	Passcode                string
	AllowStudentAudio       bool
	AllowStudentVideo       bool
	AllowStudentScreenShare bool
}

// UpdateInput carries optional changes from the admin UI.
type UpdateInput struct {
	Title                   *string
	ScheduledStart          *time.Time
	ScheduledEnd            *time.Time
	WaitingRoomEnabled      *bool
	Locked                  *bool
	Passcode                *string // empty string clears
	RotateMeetingToken      bool
	AllowStudentAudio       *bool
	AllowStudentVideo       *bool
	AllowStudentScreenShare *bool
}

// Service implements session creation, lookup and status transitions.
type Service struct {
	store        Store
	rooms        RoomEnsurer
	participants ParticipantCloser
	hands        HandFlusher
	events       EventRecorder
	notifier     Notifier
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a session service. rooms, participants, hands, events and
// notifier may be nil in which case the matching side effect is skipped.
func NewService(store Store, rooms RoomEnsurer, participants ParticipantCloser, hands HandFlusher, events EventRecorder, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		rooms:        rooms,
		participants: participants,
		hands:        hands,
		events:       events,
		notifier:     notifier,
		logger:       logger.With(zap.String("component", "sessions")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateSession schedules a new session.
func (s *Service) CreateSession(ctx context.Context, in CreateInput) (*models.Session, error) {
	courseID := strings.TrimSpace(in.CourseID)
	if courseID == "" {
		return nil, fmt.Errorf("%w: course_id required", models.ErrInvalidInput)
	}
	if strings.TrimSpace(in.HostAdminID) == "" {
		return nil, fmt.Errorf("%w: host admin required", models.ErrInvalidInput)
	}
	if in.ScheduledStart != nil && in.ScheduledEnd != nil && in.ScheduledEnd.Before(*in.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled_end before scheduled_start", models.ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		name := strings.TrimSpace(in.CourseName)
		if name == "" {
			name = courseID
		}
		title = name + " - Live Class"
	}

	hostSecret, err := idgen.GenerateSecureID("host", 32)
	if err != nil {
		return nil, err
	}
	passcodeHash := ""
	if p := strings.TrimSpace(in.Passcode); p != "" {
		if passcodeHash, err = utils.HashPassword(p); err != nil {
			return nil, fmt.Errorf("hash passcode: %w", err)
		}
	}

	now := s.now()
	sess := &models.Session{
		ID:                      uuid.New(),
		CourseID:                courseID,
		CourseSlug:              strings.TrimSpace(in.CourseSlug),
		CourseName:              strings.TrimSpace(in.CourseName),
		Title:                   title,
		ScheduledStart:          in.ScheduledStart,
		ScheduledEnd:            in.ScheduledEnd,
		Status:                  models.SessionStatusScheduled,
		HostAdminID:             in.HostAdminID,
		HostDisplayName:         strings.TrimSpace(in.HostDisplayName),
		HostSecret:              hostSecret,
		WaitingRoomEnabled:      in.WaitingRoomEnabled,
		PasscodeHash:            passcodeHash,
		MeetingToken:            uuid.NewString(),
		AllowStudentAudio:       in.AllowStudentAudio,
		AllowStudentVideo:       in.AllowStudentVideo,
		AllowStudentScreenShare: in.AllowStudentScreenShare,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.SessionsCreated.Inc()
	s.logger.Info("session created", zap.String("session_id", sess.ID.String()), zap.String("course_id", courseID))
	return sess, nil
}

// GetSession returns a session or models.ErrSessionNotFound.
func (s *Service) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.store.GetSession(ctx, id)
}

// ListSessions lists sessions, optionally filtered by status.
func (s *Service) ListSessions(ctx context.Context, status models.SessionStatus, limit int) ([]models.Session, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListSessions(ctx, status, limit)
}

// FindActiveByCourse returns the live session for a course id, slug or path.
func (s *Service) FindActiveByCourse(ctx context.Context, courseKey string) (*models.Session, error) {
	keys := models.CourseKeys(courseKey)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: course key required", models.ErrInvalidInput)
	}
	return s.store.FindLiveSessionByCourse(ctx, keys)
}

// UpdateSession applies settings changes. Ended sessions are read-only.
func (s *Service) UpdateSession(ctx context.Context, id uuid.UUID, in UpdateInput) (*models.Session, error) {
	cur, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == models.SessionStatusEnded {
		return nil, models.ErrSessionEnded
	}
	u := models.SessionUpdate{
		ScheduledStart:          in.ScheduledStart,
		ScheduledEnd:            in.ScheduledEnd,
		WaitingRoomEnabled:      in.WaitingRoomEnabled,
		Locked:                  in.Locked,
		AllowStudentAudio:       in.AllowStudentAudio,
		AllowStudentVideo:       in.AllowStudentVideo,
		AllowStudentScreenShare: in.AllowStudentScreenShare,
	}
	if in.Title != nil {
		t := strings.TrimSpace(*in.Title)
		if t == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", models.ErrInvalidInput)
		}
		u.Title = &t
	}
	start, end := cur.ScheduledStart, cur.ScheduledEnd
	if in.ScheduledStart != nil {
		start = in.ScheduledStart
	}
	if in.ScheduledEnd != nil {
		end = in.ScheduledEnd
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, fmt.Errorf("%w: scheduled_end before scheduled_start", models.ErrInvalidInput)
	}
	if in.Passcode != nil {
		hash := ""
		if p := strings.TrimSpace(*in.Passcode); p != "" {
			if hash, err = utils.HashPassword(p); err != nil {
				return nil, fmt.Errorf("hash passcode: %w", err)
			}
		}
		u.PasscodeHash = &hash
	}
	if in.RotateMeetingToken {
		tok := uuid.NewString()
		u.MeetingToken = &tok
	}
	if u.Empty() {
		return cur, nil
	}
	updated, err := s.store.UpdateSession(ctx, id, u, s.now())
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	s.record(ctx, updated.ID, models.EventKindSettings, map[string]interface{}{
		"waiting_room_enabled": updated.WaitingRoomEnabled,
		"locked":               updated.Locked,
		"passcode":             updated.HasPasscode(),
	})
	s.publish(updated.ID, "session:update", updated.View())
	return updated, nil
}

// BanIdentity prevents identity from joining the session again.
func (s *Service) BanIdentity(ctx context.Context, id uuid.UUID, identity string) (*models.Session, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: identity required", models.ErrInvalidInput)
	}
	return s.store.BanIdentity(ctx, id, identity, s.now())
}

// Start moves a session to live.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.TransitionStatus(ctx, id, models.SessionStatusLive)
}

// End moves a session to ended.
func (s *Service) End(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return s.TransitionStatus(ctx, id, models.SessionStatusEnded)
}

// TransitionStatus moves a session forward. Requesting the current status is a
// no-op. Side effects run only for the caller whose compare-and-swap won.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, next models.SessionStatus) (*models.Session, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, next)
	}
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.store.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Status == next {
			return cur, nil
		}
		if cur.Status == models.SessionStatusEnded {
			return nil, models.ErrSessionEnded
		}
		if !cur.Status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, cur.Status, next)
		}
		updated, ok, err := s.store.SwapSessionStatus(ctx, id, cur.Status, next, s.now())
		if err != nil {
			return nil, fmt.Errorf("transition session: %w", err)
		}
		if !ok {
			s.logger.Debug("status swap lost race", zap.String("session_id", id.String()), zap.Int("attempt", attempt))
			continue
		}
		s.afterTransition(ctx, cur.Status, updated)
		return updated, nil
	}
	return nil, fmt.Errorf("%w: concurrent updates on session %s", models.ErrInvalidTransition, id)
}

// afterTransition runs best-effort side effects. The status change is already
// committed; failures here are logged and repaired lazily by joins and the sweeper.
func (s *Service) afterTransition(ctx context.Context, from models.SessionStatus, sess *models.Session) {
	log := s.logger.With(zap.String("session_id", sess.ID.String()), zap.String("from", string(from)), zap.String("to", string(sess.Status)))
	metrics.RecordStateTransition(string(from), string(sess.Status))

	switch sess.Status {
	case models.SessionStatusLive:
		if s.rooms != nil {
			if _, err := s.rooms.EnsureRoom(ctx, sess.ID); err != nil {
				log.Error("ensure room on start failed", zap.Error(err))
			}
		}
	case models.SessionStatusEnded:
		at := s.now()
		if s.participants != nil {
			n, err := s.participants.DisconnectSessionParticipants(ctx, sess.ID, at)
			if err != nil {
				log.Error("disconnect participants on end failed", zap.Error(err))
			} else {
				log.Debug("participants disconnected", zap.Int64("count", n))
			}
		}
		if s.hands != nil {
			if _, err := s.hands.ResolveRaisedHands(ctx, sess.ID, at); err != nil {
				log.Error("resolve hand raises on end failed", zap.Error(err))
			}
		}
	}

	s.record(ctx, sess.ID, models.EventKindStatus, map[string]string{"from": string(from), "to": string(sess.Status)})
	s.publish(sess.ID, "session:update", sess.View())
	if sess.Status == models.SessionStatusEnded && s.notifier != nil {
		s.notifier.PublishToSession(sess.ID, "session:ended", map[string]interface{}{"session_id": sess.ID, "ended_at": sess.EndedAt})
		s.notifier.DisconnectSession(sess.ID, "session ended")
	}
	log.Info("session status changed")
}

// SetScreenShare claims (active) or releases the session's single screen share
// for actor. Students are refused when student sharing is off or someone else
// holds it; an instructor takes it over and the previous owner is told to stop.
func (s *Service) SetScreenShare(ctx context.Context, actor *models.Participant, active bool) (*ShareResult, error) {
	self := actor.ID
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		cur, err := s.store.GetSession(ctx, actor.SessionID)
		if err != nil {
			return nil, err
		}
		if !active {
			if !cur.SharingScreen(self) {
				return &ShareResult{Session: cur, Owner: cur.ScreenShareOwner}, nil
			}
			updated, ok, err := s.store.SwapScreenShareOwner(ctx, cur.ID, &self, nil, s.now())
			if err != nil {
				return nil, fmt.Errorf("release screen share: %w", err)
			}
			if !ok {
				continue
			}
			s.afterShareChange(ctx, actor, updated, nil)
			return &ShareResult{Session: updated}, nil
		}

		switch cur.Status {
		case models.SessionStatusEnded:
			return nil, models.ErrSessionEnded
		case models.SessionStatusScheduled:
			return nil, models.ErrSessionNotLive
		}
		if !actor.IsInstructor() && !cur.AllowStudentScreenShare {
			return nil, models.ErrScreenShareDisabled
		}
		if cur.SharingScreen(self) {
			return &ShareResult{Session: cur, Owner: &self}, nil
		}
		prev := cur.ScreenShareOwner
		if prev != nil && !actor.IsInstructor() {
			return &ShareResult{Session: cur, Owner: prev}, models.ErrScreenShareBusy
		}
		updated, ok, err := s.store.SwapScreenShareOwner(ctx, cur.ID, prev, &self, s.now())
		if err != nil {
			return nil, fmt.Errorf("claim screen share: %w", err)
		}
		if !ok {
			s.logger.Debug("screen share swap lost race", zap.String("session_id", cur.ID.String()), zap.Int("attempt", attempt))
			continue
		}
		s.afterShareChange(ctx, actor, updated, prev)
		return &ShareResult{Session: updated, Owner: &self, Displaced: prev}, nil
	}
	return nil, fmt.Errorf("%w: concurrent screen share updates on session %s", models.ErrScreenShareBusy, actor.SessionID)
}

// ReleaseScreenShare clears the share if participantID holds it. Used when
// the owner leaves or is told to stop sharing.
func (s *Service) ReleaseScreenShare(ctx context.Context, sessionID, participantID uuid.UUID) error {
	owner := participantID
	updated, ok, err := s.store.SwapScreenShareOwner(ctx, sessionID, &owner, nil, s.now())
	if err != nil {
		return fmt.Errorf("release screen share: %w", err)
	}
	if ok {
		s.publish(sessionID, "session:update", updated.View())
		s.publish(sessionID, "share:owner", map[string]interface{}{"participant_id": nil})
	}
	return nil
}

func (s *Service) afterShareChange(ctx context.Context, actor *models.Participant, sess *models.Session, displaced *uuid.UUID) {
	if displaced != nil && s.notifier != nil {
		s.notifier.SendToParticipant(sess.ID, *displaced, "participant:command", map[string]string{"kind": "screen", "action": "stop"})
	}
	if s.events != nil {
		pid := actor.ID
		s.events.Record(ctx, models.EventInput{
			SessionID:     sess.ID,
			ParticipantID: &pid,
			Role:          string(actor.Role),
			Kind:          models.EventKindMedia,
			Payload:       map[string]interface{}{"kind": "screen", "active": sess.ScreenShareOwner != nil, "displaced": displaced},
		})
	}
	s.publish(sess.ID, "session:update", sess.View())
	s.publish(sess.ID, "share:owner", map[string]interface{}{"participant_id": sess.ScreenShareOwner})
}

func (s *Service) record(ctx context.Context, sessionID uuid.UUID, kind string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Record(ctx, models.EventInput{SessionID: sessionID, Role: "admin", Kind: kind, Payload: payload})
}

func (s *Service) publish(sessionID uuid.UUID, event string, payload interface{}) {
	if s.notifier != nil {
		s.notifier.PublishToSession(sessionID, event, payload)
	}
}
