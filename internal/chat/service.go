// Package chat relays and stores in-session chat messages.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
	"github.com/aura-webinar/liveclass/internal/models"
)

// Store persists chat messages.
type Store interface {
	InsertChatMessage(ctx context.Context, m *models.ChatMessage) (*models.ChatMessage, error)
	// ListChatMessages returns the most recent limit messages created at or
	// after since, oldest first.
	ListChatMessages(ctx context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.ChatMessage, error)
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

// Notifier broadcasts new messages.
type Notifier interface {
	PublishToSession(sessionID uuid.UUID, event string, payload interface{})
}

// Options bound message size, page size and retention.
type Options struct {
	MaxLength    int
	DefaultLimit int
	MaxLimit     int
	Retention    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = 2000
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 200
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 500
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
	return o
}

// Service validates, stores and broadcasts chat.
type Service struct {
	store        Store
	sessions     Sessions
	participants Participants
	events       EventRecorder
	notifier     Notifier
	opts         Options
	logger       *zap.Logger
	now          func() time.Time
}

// NewService creates a chat service.
func NewService(store Store, sessions Sessions, participants Participants, events EventRecorder, notifier Notifier, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		sessions:     sessions,
		participants: participants,
		events:       events,
		notifier:     notifier,
		opts:         opts.withDefaults(),
		logger:       logger.With(zap.String("component", "chat")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// PostMessage stores a participant's message and broadcasts it to the session.
func (s *Service) PostMessage(ctx context.Context, sessionID, participantID uuid.UUID, body string) (*models.ChatMessage, error) {
	body, err := s.normalize(body)
	if err != nil {
		return nil, err
	}
	if err := s.requireLive(ctx, sessionID); err != nil {
		return nil, err
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
	pid := p.ID
	msg, err := s.store.InsertChatMessage(ctx, &models.ChatMessage{
		ID:                uuid.New(),
		SessionID:         sessionID,
		ParticipantID:     &pid,
		SenderRole:        string(p.Role),
		SenderDisplayName: p.DisplayName,
		Body:              body,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	metrics.ChatMessages.Inc()
	if s.events != nil {
		s.events.Record(ctx, models.EventInput{
			SessionID:     sessionID,
			ParticipantID: &pid,
			Role:          string(p.Role),
			Kind:          models.EventKindChat,
			Payload:       map[string]interface{}{"message_id": msg.ID.String(), "length": utf8.RuneCountInString(body)},
		})
	}
	s.broadcast(msg)
	return msg, nil
}

// PostSystemMessage stores a server message that has no sender participant.
func (s *Service) PostSystemMessage(ctx context.Context, sessionID uuid.UUID, body string) (*models.ChatMessage, error) {
	body, err := s.normalize(body)
	if err != nil {
		return nil, err
	}
	if err := s.requireLive(ctx, sessionID); err != nil {
		return nil, err
	}
	msg, err := s.store.InsertChatMessage(ctx, &models.ChatMessage{
		ID:                uuid.New(),
		SessionID:         sessionID,
		SenderRole:        models.SenderRoleSystem,
		SenderDisplayName: "System",
		Body:              body,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("insert system message: %w", err)
	}
	s.broadcast(msg)
	return msg, nil
}

// ListMessages returns up to limit of the newest messages, oldest first.
// Chat stays readable after the session ends.
func (s *Service) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	return s.store.ListChatMessages(ctx, sessionID, s.now().Add(-s.opts.Retention), limit)
}

func (s *Service) normalize(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", fmt.Errorf("%w: message is empty", models.ErrInvalidMessage)
	}
	if utf8.RuneCountInString(body) > s.opts.MaxLength {
		return "", fmt.Errorf("%w: message exceeds %d characters", models.ErrInvalidMessage, s.opts.MaxLength)
	}
	return body, nil
}

func (s *Service) requireLive(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case models.SessionStatusEnded:
		return models.ErrSessionEnded
	case models.SessionStatusLive:
		return nil
	}
	return models.ErrSessionNotLive
}

func (s *Service) broadcast(msg *models.ChatMessage) {
	if s.notifier != nil {
		s.notifier.PublishToSession(msg.SessionID, "chat:message", msg)
	}
}
