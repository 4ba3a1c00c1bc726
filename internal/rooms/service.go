// Package rooms binds each live session to exactly one provider room.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/provider"
	"github.com/aura-webinar/liveclass/pkg/idgen"
)

const maxSlugLen = 48

// Store persists room bindings.
type Store interface {
	// InsertRoom inserts r unless the session already has a room, in which
	// case the existing row is returned with created=false.
	InsertRoom(ctx context.Context, r *models.Room) (room *models.Room, created bool, err error)
	GetRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error)
	UpdateProviderRoom(ctx context.Context, sessionID uuid.UUID, providerRoom string, at time.Time) (*models.Room, error)
}

// SessionLookup reads sessions.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// EventRecorder appends to the audit log.
type EventRecorder interface {
	Record(ctx context.Context, in models.EventInput)
}

// Notifier pushes room changes to connected clients.
type Notifier interface {
	PublishToSession(sessionID uuid.UUID, event string, payload interface{})
}

// Service creates and rotates room bindings.
type Service struct {
	store    Store
	sessions SessionLookup
	provider provider.Client
	events   EventRecorder
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a room service. A nil provider behaves like provider.Noop.
func NewService(store Store, sessions SessionLookup, prov provider.Client, events EventRecorder, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prov == nil {
		prov = provider.Noop{}
	}
	return &Service{
		store:    store,
		sessions: sessions,
		provider: prov,
		events:   events,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "rooms")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// EnsureRoom returns the session's room, creating it on first call. Concurrent
// callers all get the same row; only the one whose insert won talks to the provider.
func (s *Service) EnsureRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error) {
	if r, err := s.store.GetRoom(ctx, sessionID); err == nil {
		return r, nil
	} else if !errors.Is(err, models.ErrRoomNotFound) {
		return nil, err
	}
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	providerRoom, err := newProviderRoom(sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	room, created, err := s.store.InsertRoom(ctx, &models.Room{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Name:         sess.Title,
		Slug:         Slugify(sess.Title),
		ProviderRoom: providerRoom,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	if !created {
		return room, nil
	}
	if err := s.provider.CreateRoom(ctx, room.ProviderRoom); err != nil {
		// LiveKit creates rooms on first join, so the binding stays usable.
		s.logger.Warn("provider create room failed", zap.String("session_id", sessionID.String()),
			zap.String("provider_room", room.ProviderRoom), zap.Error(err))
	}
	s.record(ctx, sessionID, models.EventKindRoomCreated, map[string]string{"provider_room": room.ProviderRoom, "slug": room.Slug})
	s.logger.Info("room created", zap.String("session_id", sessionID.String()), zap.String("provider_room", room.ProviderRoom))
	return room, nil
}

// GetRoom returns the session's room or models.ErrRoomNotFound.
func (s *Service) GetRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error) {
	return s.store.GetRoom(ctx, sessionID)
}

// RotateProviderRoom moves the session to a fresh provider room. The session
// id and slug stay the same.
func (s *Service) RotateProviderRoom(ctx context.Context, sessionID uuid.UUID) (*models.Room, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionStatusEnded {
		return nil, models.ErrSessionEnded
	}
	cur, err := s.EnsureRoom(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	next, err := newProviderRoom(sessionID)
	if err != nil {
		return nil, err
	}
	room, err := s.store.UpdateProviderRoom(ctx, sessionID, next, s.now())
	if err != nil {
		return nil, fmt.Errorf("rotate room: %w", err)
	}
	if err := s.provider.CreateRoom(ctx, next); err != nil {
		s.logger.Warn("provider create room failed", zap.String("provider_room", next), zap.Error(err))
	}
	if err := s.provider.DeleteRoom(ctx, cur.ProviderRoom); err != nil {
		s.logger.Warn("provider delete room failed", zap.String("provider_room", cur.ProviderRoom), zap.Error(err))
	}
	s.record(ctx, sessionID, models.EventKindRoomRotated, map[string]string{"from": cur.ProviderRoom, "to": next})
	if s.notifier != nil {
		s.notifier.PublishToSession(sessionID, "room:rotated", room)
	}
	return room, nil
}

func (s *Service) record(ctx context.Context, sessionID uuid.UUID, kind string, payload interface{}) {
	if s.events != nil {
		s.events.Record(ctx, models.EventInput{SessionID: sessionID, Role: "system", Kind: kind, Payload: payload})
	}
}

// newProviderRoom returns live-<first 8 hex of the session>-<random>.
func newProviderRoom(sessionID uuid.UUID) (string, error) {
	suffix, err := idgen.GenerateSecureID("", 10)
	if err != nil {
		return "", err
	}
	return "live-" + strings.ReplaceAll(sessionID.String(), "-", "")[:8] + "-" + suffix, nil
}

// Slugify lowercases s and joins alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return "live-class"
	}
	return slug
}
