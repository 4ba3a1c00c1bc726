// Package memory is a process-local implementation of every live class store,
// used by tests and single-node development. It mirrors the constraints the
// PostgreSQL schema enforces.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/liveclass/internal/models"
)

// Store holds all live class state behind one mutex.
type Store struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.Session
	rooms        map[uuid.UUID]*models.Room // by session id
	participants map[uuid.UUID]*models.Participant
	hands        map[uuid.UUID]*models.HandRaise
	chat         []*models.ChatMessage
	events       map[uuid.UUID]*models.Event
	recordings   map[uuid.UUID]*models.Recording
	seq          int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:     make(map[uuid.UUID]*models.Session),
		rooms:        make(map[uuid.UUID]*models.Room),
		participants: make(map[uuid.UUID]*models.Participant),
		hands:        make(map[uuid.UUID]*models.HandRaise),
		events:       make(map[uuid.UUID]*models.Event),
		recordings:   make(map[uuid.UUID]*models.Recording),
	}
}

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

func copySession(in *models.Session) *models.Session {
	out := *in
	out.BannedIdentities = append([]string(nil), in.BannedIdentities...)
	if in.ScreenShareOwner != nil {
		owner := *in.ScreenShareOwner
		out.ScreenShareOwner = &owner
	}
	return &out
}

// CreateSession inserts a session.
func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return models.ErrInvalidInput
	}
	c := copySession(sess)
	c.UpdatedAt = c.CreatedAt
	s.sessions[sess.ID] = c
	return nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// ListSessions orders by scheduled start (unscheduled last), then creation.
func (s *Store) ListSessions(_ context.Context, status models.SessionStatus, limit int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Session, 0)
	for _, sess := range s.sessions {
		if status == "" || sess.Status == status {
			list = append(list, *copySession(sess))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.ScheduledStart != nil && b.ScheduledStart == nil:
			return true
		case a.ScheduledStart == nil && b.ScheduledStart != nil:
			return false
		case a.ScheduledStart != nil && !a.ScheduledStart.Equal(*b.ScheduledStart):
			return a.ScheduledStart.Before(*b.ScheduledStart)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpdateSession applies the non-nil fields of u.
func (s *Store) UpdateSession(_ context.Context, id uuid.UUID, u models.SessionUpdate, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	u.Apply(sess)
	sess.UpdatedAt = at
	return copySession(sess), nil
}

// SwapSessionStatus moves a session from one status to another atomically.
func (s *Store) SwapSessionStatus(_ context.Context, id uuid.UUID, from, to models.SessionStatus, at time.Time) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		return nil, false, nil
	}
	sess.Status = to
	switch to {
	case models.SessionStatusLive:
		if sess.StartedAt == nil {
			t := at
			sess.StartedAt = &t
		}
	case models.SessionStatusEnded:
		t := at
		sess.EndedAt = &t
	}
	sess.UpdatedAt = at
	return copySession(sess), true, nil
}

// SwapScreenShareOwner sets the owner to `to` only if it is still `from`.
func (s *Store) SwapScreenShareOwner(_ context.Context, id uuid.UUID, from, to *uuid.UUID, at time.Time) (*models.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sameOwner(sess.ScreenShareOwner, from) {
		return nil, false, nil
	}
	sess.ScreenShareOwner = nil
	if to != nil {
		owner := *to
		sess.ScreenShareOwner = &owner
	}
	sess.UpdatedAt = at
	return copySession(sess), true, nil
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// FindLiveSessionByCourse returns the most recently started live session
// matching any key.
func (s *Store) FindLiveSessionByCourse(_ context.Context, keys []string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var best *models.Session
	for _, sess := range s.sessions {
		if sess.Status != models.SessionStatusLive {
			continue
		}
		_, byID := want[models.NormalizeCourseKey(sess.CourseID)]
		_, bySlug := want[models.NormalizeCourseKey(sess.CourseSlug)]
		if !byID && !bySlug {
			continue
		}
		if best == nil || startedAfter(sess, best) {
			best = sess
		}
	}
	if best == nil {
		return nil, models.ErrSessionNotFound
	}
	return copySession(best), nil
}

func startedAfter(a, b *models.Session) bool {
	switch {
	case a.StartedAt == nil:
		return false
	case b.StartedAt == nil:
		return true
	}
	return a.StartedAt.After(*b.StartedAt)
}

// BanIdentity adds identity to the session's banned list once.
func (s *Store) BanIdentity(_ context.Context, id uuid.UUID, identity string, at time.Time) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if !sess.IsBanned(identity) {
		sess.BannedIdentities = append(sess.BannedIdentities, identity)
	}
	sess.UpdatedAt = at
	return copySession(sess), nil
}

// DeleteEndedSessions removes sessions that ended before cutoff together with
// their rooms, participants and hand raises. Chat, events and recordings stay.
func (s *Store) DeleteEndedSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.Status != models.SessionStatusEnded || sess.EndedAt == nil || !sess.EndedAt.Before(cutoff) {
			continue
		}
		delete(s.sessions, id)
		delete(s.rooms, id)
		for pid, p := range s.participants {
			if p.SessionID == id {
				s.deleteParticipantLocked(pid)
			}
		}
		n++
	}
	return n, nil
}

// InsertRoom creates the session's room unless one exists.
func (s *Store) InsertRoom(_ context.Context, r *models.Room) (*models.Room, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[r.SessionID]; !ok {
		return nil, false, models.ErrSessionNotFound
	}
	if existing, ok := s.rooms[r.SessionID]; ok {
		c := *existing
		return &c, false, nil
	}
	c := *r
	s.rooms[r.SessionID] = &c
	out := c
	return &out, true, nil
}

// GetRoom returns the room bound to a session.
func (s *Store) GetRoom(_ context.Context, sessionID uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[sessionID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	c := *r
	return &c, nil
}

// UpdateProviderRoom replaces the provider room name.
func (s *Store) UpdateProviderRoom(_ context.Context, sessionID uuid.UUID, providerRoom string, at time.Time) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[sessionID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	r.ProviderRoom = providerRoom
	r.UpdatedAt = at
	c := *r
	return &c, nil
}
