package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/liveclass/internal/models"
)

// InsertHandRaise inserts h unless the participant already has a raised hand.
func (s *Store) InsertHandRaise(_ context.Context, h *models.HandRaise) (*models.HandRaise, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[h.ParticipantID]; !ok {
		return nil, false, models.ErrParticipantNotFound
	}
	for _, existing := range s.hands {
		if existing.SessionID == h.SessionID && existing.ParticipantID == h.ParticipantID && existing.State == models.HandRaised {
			c := *existing
			return &c, false, nil
		}
	}
	c := *h
	c.Seq = s.nextSeq()
	s.hands[c.ID] = &c
	out := c
	return &out, true, nil
}

// GetHandRaise returns a hand raise by id.
func (s *Store) GetHandRaise(_ context.Context, id uuid.UUID) (*models.HandRaise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hands[id]
	if !ok {
		return nil, models.ErrHandRaiseNotFound
	}
	c := *h
	return &c, nil
}

// SwapHandRaiseState changes state only if the hand is still in from.
func (s *Store) SwapHandRaiseState(_ context.Context, id uuid.UUID, from, to models.HandRaiseState, at time.Time) (*models.HandRaise, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hands[id]
	if !ok || h.State != from {
		return nil, false, nil
	}
	h.State = to
	h.UpdatedAt = at
	c := *h
	return &c, true, nil
}

// ListRaisedHands returns raised hands created at or after since, oldest first.
func (s *Store) ListRaisedHands(_ context.Context, sessionID uuid.UUID, since time.Time) ([]models.HandRaise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.HandRaise, 0)
	for _, h := range s.hands {
		if h.SessionID == sessionID && h.State == models.HandRaised && !h.CreatedAt.Before(since) {
			list = append(list, *h)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].Seq < list[j].Seq
	})
	return list, nil
}

// ResolveRaisedHands resolves every raised hand of a session.
func (s *Store) ResolveRaisedHands(_ context.Context, sessionID uuid.UUID, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, h := range s.hands {
		if h.SessionID == sessionID && h.State == models.HandRaised {
			h.State = models.HandResolved
			h.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// DeleteHandRaisesBefore removes hand raises created before cutoff.
func (s *Store) DeleteHandRaisesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, h := range s.hands {
		if h.CreatedAt.Before(cutoff) {
			delete(s.hands, id)
			n++
		}
	}
	return n, nil
}

func copyChat(in *models.ChatMessage) models.ChatMessage {
	out := *in
	if in.ParticipantID != nil {
		v := *in.ParticipantID
		out.ParticipantID = &v
	}
	return out
}

// InsertChatMessage appends a message.
func (s *Store) InsertChatMessage(_ context.Context, m *models.ChatMessage) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyChat(m)
	c.Seq = s.nextSeq()
	s.chat = append(s.chat, &c)
	out := copyChat(&c)
	return &out, nil
}

// ListChatMessages returns the newest limit messages since the cutoff, oldest first.
func (s *Store) ListChatMessages(_ context.Context, sessionID uuid.UUID, since time.Time, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.ChatMessage, 0)
	for _, m := range s.chat {
		if m.SessionID == sessionID && !m.CreatedAt.Before(since) {
			list = append(list, copyChat(m))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].Seq < list[j].Seq
	})
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

// DeleteChatMessagesBefore removes messages older than cutoff.
func (s *Store) DeleteChatMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chat[:0]
	var n int64
	for _, m := range s.chat {
		if m.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	for i := len(kept); i < len(s.chat); i++ {
		s.chat[i] = nil
	}
	s.chat = kept
	return n, nil
}

func copyEvent(in *models.Event) models.Event {
	out := *in
	if in.ParticipantID != nil {
		v := *in.ParticipantID
		out.ParticipantID = &v
	}
	out.Payload = append(json.RawMessage(nil), in.Payload...)
	return out
}

// InsertEvent appends an event; an existing id is a no-op.
func (s *Store) InsertEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return nil
	}
	c := copyEvent(e)
	if len(c.Payload) == 0 {
		c.Payload = json.RawMessage("{}")
	}
	c.Seq = s.nextSeq()
	s.events[c.ID] = &c
	return nil
}

// ListEvents returns matching events newest first.
func (s *Store) ListEvents(_ context.Context, sessionID uuid.UUID, f models.EventFilter) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Event, 0)
	for _, e := range s.events {
		if e.SessionID != sessionID {
			continue
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.Since != nil && e.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && e.CreatedAt.After(*f.Until) {
			continue
		}
		list = append(list, copyEvent(e))
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].Seq > list[j].Seq
	})
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

// InsertRecording inserts a recording unless the public id is already attached.
func (s *Store) InsertRecording(_ context.Context, r *models.Recording) (*models.Recording, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recordings {
		if existing.SessionID == r.SessionID && existing.PublicID == r.PublicID {
			c := *existing
			return &c, false, nil
		}
	}
	c := *r
	s.recordings[c.ID] = &c
	out := c
	return &out, true, nil
}

// GetRecording returns a recording by id.
func (s *Store) GetRecording(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return nil, models.ErrRecordingNotFound
	}
	c := *r
	return &c, nil
}

// ListRecordings returns a session's recordings, newest first.
func (s *Store) ListRecordings(_ context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.Recording, 0)
	for _, r := range s.recordings {
		if r.SessionID == sessionID {
			list = append(list, *r)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
	return list, nil
}
