// Package handraises keeps the per-session queue of requests to speak.
package handraises

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
	"github.com/aura-webinar/liveclass/internal/models"
)

// Store persists hand raises.
type Store interface {
	// InsertHandRaise inserts h unless the participant already has a raised
	// hand, in which case that record is returned with created=false.
	InsertHandRaise(ctx context.Context, h *models.HandRaise) (hand *models.HandRaise, created bool, err error)
	GetHandRaise(ctx context.Context, id uuid.UUID) (*models.HandRaise, error)
	// SwapHandRaiseState changes state only if the record is still in from.
	SwapHandRaiseState(ctx context.Context, id uuid.UUID, from, to models.HandRaiseState, at time.Time) (hand *models.HandRaise, ok bool, err error)
	// ListRaisedHands returns raised hands created at or after since, oldest first.
	ListRaisedHands(ctx context.Context, sessionID uuid.UUID, since time.Time) ([]models.HandRaise, error)
	ResolveRaisedHands(ctx context.Context, sessionID uuid.UUID, at time.Time) (int64, error)
}

// Sessions reads sessions.
type Sessions interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Participants reads participants.
type Participants interface {
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
}

// EventRecorder appends to the audit log.
type EventRecorder interface {
	Record(ctx context.Context, in models.EventInput)
}

// Notifier pushes queue changes to connected clients.
type Notifier interface {
	PublishToSession(sessionID uuid.UUID, event string, payload interface{})
}

// Service coordinates raising, lowering and resolving hands.
type Service struct {
	store        Store
	sessions     Sessions
	participants Participants
	events       EventRecorder
	notifier     Notifier
	retention    time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a hand raise service. Raised hands older than retention
// are excluded from the queue.
func NewService(store Store, sessions Sessions, participants Participants, events EventRecorder, notifier Notifier, retention time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Service{
		store:        store,
		sessions:     sessions,
		participants: participants,
		events:       events,
		notifier:     notifier,
		retention:    retention,
		logger:       logger.With(zap.String("component", "handraises")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// RaiseHand queues participantID. Raising twice returns the pending record.
func (s *Service) RaiseHand(ctx context.Context, sessionID, participantID uuid.UUID) (*models.HandRaise, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case models.SessionStatusEnded:
		return nil, models.ErrSessionEnded
	case models.SessionStatusScheduled:
		return nil, models.ErrSessionNotLive
	}
	p, err := s.participants.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.SessionID != sessionID {
		return nil, models.ErrParticipantNotFound
	}
	if p.Waiting {
		return nil, models.ErrParticipantWaiting
	}
	now := s.now()
	hand, created, err := s.store.InsertHandRaise(ctx, &models.HandRaise{
		ID:            uuid.New(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		DisplayName:   p.DisplayName,
		State:         models.HandRaised,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("raise hand: %w", err)
	}
	if created {
		metrics.HandRaises.WithLabelValues(string(models.HandRaised)).Inc()
		s.record(ctx, hand, string(p.Role), models.EventKindHandRaise)
		s.publishQueue(ctx, sessionID)
	}
	return hand, nil
}

// LowerHand withdraws a hand. Only its owner may lower it.
func (s *Service) LowerHand(ctx context.Context, actor *models.Participant, handID uuid.UUID) (*models.HandRaise, error) {
	hand, err := s.store.GetHandRaise(ctx, handID)
	if err != nil {
		return nil, err
	}
	if actor == nil || hand.ParticipantID != actor.ID {
		return nil, models.ErrForbidden
	}
	return s.finish(ctx, hand, models.HandLowered, string(actor.Role), models.EventKindHandLower)
}

// LowerOwnHand lowers the actor's pending hand, if any.
func (s *Service) LowerOwnHand(ctx context.Context, actor *models.Participant) (*models.HandRaise, error) {
	queue, err := s.store.ListRaisedHands(ctx, actor.SessionID, s.cutoff())
	if err != nil {
		return nil, err
	}
	for i := range queue {
		if queue[i].ParticipantID == actor.ID {
			return s.LowerHand(ctx, actor, queue[i].ID)
		}
	}
	return nil, models.ErrHandRaiseNotFound
}

// ResolveHand marks a hand as handled. actor must be an instructor of the
// hand's session; a nil actor is an admin acting through the API.
func (s *Service) ResolveHand(ctx context.Context, actor *models.Participant, handID uuid.UUID) (*models.HandRaise, error) {
	hand, err := s.store.GetHandRaise(ctx, handID)
	if err != nil {
		return nil, err
	}
	role := "admin"
	if actor != nil {
		if !actor.IsInstructor() || actor.SessionID != hand.SessionID {
			return nil, models.ErrForbidden
		}
		role = string(actor.Role)
	}
	return s.finish(ctx, hand, models.HandResolved, role, models.EventKindHandResolve)
}

// ListQueue returns pending hands, oldest first.
func (s *Service) ListQueue(ctx context.Context, sessionID uuid.UUID) ([]models.HandRaise, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListRaisedHands(ctx, sessionID, s.cutoff())
}

// ResolveAllRaised resolves every pending hand of a session.
func (s *Service) ResolveAllRaised(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	n, err := s.store.ResolveRaisedHands(ctx, sessionID, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publishQueue(ctx, sessionID)
	}
	return n, nil
}

// finish moves a raised hand to a terminal state. A hand that is already
// terminal is returned unchanged.
func (s *Service) finish(ctx context.Context, hand *models.HandRaise, to models.HandRaiseState, role, kind string) (*models.HandRaise, error) {
	if hand.State != models.HandRaised {
		return hand, nil
	}
	updated, ok, err := s.store.SwapHandRaiseState(ctx, hand.ID, models.HandRaised, to, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.store.GetHandRaise(ctx, hand.ID)
	}
	metrics.HandRaises.WithLabelValues(string(to)).Inc()
	s.record(ctx, updated, role, kind)
	s.publishQueue(ctx, updated.SessionID)
	return updated, nil
}

func (s *Service) cutoff() time.Time {
	return s.now().Add(-s.retention)
}

func (s *Service) publishQueue(ctx context.Context, sessionID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	queue, err := s.store.ListRaisedHands(ctx, sessionID, s.cutoff())
	if err != nil {
		s.logger.Warn("list hand queue failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	s.notifier.PublishToSession(sessionID, "hand:queue", queue)
}

func (s *Service) record(ctx context.Context, hand *models.HandRaise, role, kind string) {
	if s.events == nil {
		return
	}
	pid := hand.ParticipantID
	s.events.Record(ctx, models.EventInput{
		SessionID:     hand.SessionID,
		ParticipantID: &pid,
		Role:          role,
		Kind:          kind,
		Payload:       map[string]string{"hand_raise_id": hand.ID.String(), "state": string(hand.State)},
	})
}
