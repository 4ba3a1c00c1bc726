package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/liveclass/internal/models"
)

func copyParticipant(in *models.Participant) *models.Participant {
	out := *in
	if in.IdentityRef != nil {
		v := *in.IdentityRef
		out.IdentityRef = &v
	}
	if in.RoomID != nil {
		v := *in.RoomID
		out.RoomID = &v
	}
	return &out
}

func (s *Store) keyTakenLocked(hash string, except uuid.UUID) bool {
	for id, p := range s.participants {
		if id != except && p.SignalingKeyHash == hash {
			return true
		}
	}
	return false
}

// UpsertParticipant inserts p or, when its identity is already in the session,
// rotates the existing record's key. A connected admitted participant stays admitted.
func (s *Store) UpsertParticipant(_ context.Context, p *models.Participant) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[p.SessionID]; !ok {
		return nil, models.ErrSessionNotFound
	}
	if identity := p.Identity(); identity != "" {
		for id, existing := range s.participants {
			if existing.SessionID != p.SessionID || existing.Identity() != identity {
				continue
			}
			if s.keyTakenLocked(p.SignalingKeyHash, id) {
				return nil, models.ErrInvalidInput
			}
			admitted := existing.Connected && !existing.Waiting
			existing.Role = p.Role
			existing.DisplayName = p.DisplayName
			existing.SignalingKeyHash = p.SignalingKeyHash
			existing.Waiting = p.Waiting && !admitted
			existing.Connected = !existing.Waiting
			if p.RoomID != nil {
				v := *p.RoomID
				existing.RoomID = &v
			}
			existing.LastSeenAt = p.JoinedAt
			return copyParticipant(existing), nil
		}
	}
	if s.keyTakenLocked(p.SignalingKeyHash, uuid.Nil) {
		return nil, models.ErrInvalidInput
	}
	c := copyParticipant(p)
	c.LastSeenAt = c.JoinedAt
	s.participants[c.ID] = c
	return copyParticipant(c), nil
}

// GetParticipant returns a participant by id.
func (s *Store) GetParticipant(_ context.Context, id uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	return copyParticipant(p), nil
}

// GetParticipantByKeyHash returns the participant holding a signaling key.
func (s *Store) GetParticipantByKeyHash(_ context.Context, hash string) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.SignalingKeyHash == hash {
			return copyParticipant(p), nil
		}
	}
	return nil, models.ErrParticipantNotFound
}

func (s *Store) updateParticipant(id uuid.UUID, fn func(p *models.Participant)) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	fn(p)
	return copyParticipant(p), nil
}

// MarkParticipantReconnected refreshes presence; waiting participants stay unconnected.
func (s *Store) MarkParticipantReconnected(_ context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	return s.updateParticipant(id, func(p *models.Participant) {
		p.Connected = !p.Waiting
		p.LastSeenAt = at
	})
}

// HeartbeatParticipant refreshes last seen and restores presence for an admitted
// participant of a session that has not ended.
func (s *Store) HeartbeatParticipant(_ context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	return s.updateParticipant(id, func(p *models.Participant) {
		ended := false
		if sess, ok := s.sessions[p.SessionID]; ok {
			ended = sess.Status == models.SessionStatusEnded
		}
		p.Connected = !p.Waiting && !ended
		p.LastSeenAt = at
	})
}

// LeaveParticipant clears presence; a waiting participant's key is replaced.
func (s *Store) LeaveParticipant(_ context.Context, id uuid.UUID, revokedKeyHash string, at time.Time) (*models.Participant, error) {
	return s.updateParticipant(id, func(p *models.Participant) {
		if p.Waiting {
			p.SignalingKeyHash = revokedKeyHash
		}
		p.Connected = false
		p.Waiting = false
		p.LastSeenAt = at
	})
}

// MarkParticipantDisconnected clears connected.
func (s *Store) MarkParticipantDisconnected(_ context.Context, id uuid.UUID, at time.Time) (*models.Participant, error) {
	return s.updateParticipant(id, func(p *models.Participant) {
		p.Connected = false
		p.LastSeenAt = at
	})
}

// SetParticipantWaiting sets the waiting flag; waiting implies disconnected.
func (s *Store) SetParticipantWaiting(_ context.Context, id uuid.UUID, waiting bool, at time.Time) (*models.Participant, error) {
	return s.updateParticipant(id, func(p *models.Participant) {
		p.Waiting = waiting
		if waiting {
			p.Connected = false
		}
		p.LastSeenAt = at
	})
}

// DeleteParticipant removes a participant and its hand raises.
func (s *Store) DeleteParticipant(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[id]; !ok {
		return models.ErrParticipantNotFound
	}
	s.deleteParticipantLocked(id)
	return nil
}

func (s *Store) deleteParticipantLocked(id uuid.UUID) {
	delete(s.participants, id)
	for hid, h := range s.hands {
		if h.ParticipantID == id {
			delete(s.hands, hid)
		}
	}
}

// ListParticipants returns a session's participants in join order.
func (s *Store) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Participant, 0)
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			list = append(list, *copyParticipant(p))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}

// DisconnectSessionParticipants marks every connected participant of a session disconnected.
func (s *Store) DisconnectSessionParticipants(_ context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		if p.SessionID == sessionID && p.Connected {
			p.Connected = false
			p.LastSeenAt = at
			n++
		}
	}
	return n, nil
}

// MarkStaleParticipants disconnects participants not seen since cutoff.
func (s *Store) MarkStaleParticipants(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		if p.Connected && p.LastSeenAt.Before(cutoff) {
			p.Connected = false
			n++
		}
	}
	return n, nil
}

// DisconnectEndedSessionParticipants repairs participants left connected in ended sessions.
func (s *Store) DisconnectEndedSessionParticipants(_ context.Context, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.participants {
		sess, ok := s.sessions[p.SessionID]
		if ok && sess.Status == models.SessionStatusEnded && p.Connected {
			p.Connected = false
			p.LastSeenAt = at
			n++
		}
	}
	return n, nil
}

// DeleteDisconnectedParticipants removes participants disconnected since before cutoff.
func (s *Store) DeleteDisconnectedParticipants(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, p := range s.participants {
		if !p.Connected && p.LastSeenAt.Before(cutoff) {
			s.deleteParticipantLocked(id)
			n++
		}
	}
	return n, nil
}
