// Package events keeps the append-only audit log of what happened in a session.
// Writes are best effort and happen off the request path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
	"github.com/aura-webinar/liveclass/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	writeTimeout     = 5 * time.Second
)

// Store persists events.
type Store interface {
	// InsertEvent is idempotent on the event id.
	InsertEvent(ctx context.Context, e *models.Event) error
	ListEvents(ctx context.Context, sessionID uuid.UUID, f models.EventFilter) ([]models.Event, error)
}

// RetryQueue takes events whose first write failed.
type RetryQueue interface {
	EnqueueEventRetry(ctx context.Context, event json.RawMessage) error
}

// Recorder buffers events and writes them from a single background goroutine.
type Recorder struct {
	store  Store
	retry  RetryQueue
	logger *zap.Logger
	now    func() time.Time

	ch        chan *models.Event
	running   atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewRecorder creates a recorder. retry may be nil. Until Start is called,
// Record writes synchronously.
func NewRecorder(store Store, retry RetryQueue, buffer int, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		store:  store,
		retry:  retry,
		logger: logger.With(zap.String("component", "event-recorder")),
		now:    func() time.Time { return time.Now().UTC() },
		ch:     make(chan *models.Event, buffer),
		done:   make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Start begins the writer loop.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.running.Store(true)
		r.wg.Add(1)
		go r.run()
		r.logger.Info("event recorder started")
	})
}

// Stop flushes buffered events and stops the writer.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.running.Store(false)
		close(r.done)
		r.wg.Wait()
		r.logger.Info("event recorder stopped")
	})
}

// Record appends an event. It never blocks on the store and never fails the
// caller: a full buffer drops the event.
func (r *Recorder) Record(ctx context.Context, in models.EventInput) {
	e, err := r.build(in)
	if err != nil {
		r.logger.Warn("event payload not encodable", zap.String("kind", in.Kind), zap.Error(err))
		metrics.RecordEvent("dropped")
		return
	}
	if !r.running.Load() {
		r.write(ctx, e)
		return
	}
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("event buffer full, dropping event",
			zap.String("session_id", e.SessionID.String()), zap.String("kind", e.Kind))
		metrics.RecordEvent("dropped")
	}
}

// List returns events for a session, newest first.
func (r *Recorder) List(ctx context.Context, sessionID uuid.UUID, f models.EventFilter) ([]models.Event, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return nil, fmt.Errorf("%w: until before since", models.ErrInvalidInput)
	}
	return r.store.ListEvents(ctx, sessionID, f)
}

// Replay writes an event previously handed to the retry queue.
func (r *Recorder) Replay(ctx context.Context, raw json.RawMessage) error {
	var e models.Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if e.ID == uuid.Nil || e.SessionID == uuid.Nil || e.Kind == "" {
		return fmt.Errorf("%w: incomplete event", models.ErrInvalidInput)
	}
	if err := r.store.InsertEvent(ctx, &e); err != nil {
		return err
	}
	metrics.RecordEvent("replayed")
	return nil
}

func (r *Recorder) build(in models.EventInput) (*models.Event, error) {
	e := &models.Event{
		ID:        uuid.New(),
		SessionID: in.SessionID,
		Role:      in.Role,
		Kind:      in.Kind,
		CreatedAt: r.now(),
	}
	if in.ParticipantID != nil {
		pid := in.ParticipantID.String()
		e.ParticipantID = &pid
	}
	if in.Payload != nil {
		switch v := in.Payload.(type) {
		case json.RawMessage:
			e.Payload = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			e.Payload = b
		}
	}
	return e, nil
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.ch:
			r.write(context.Background(), e)
		case <-r.done:
			for {
				select {
				case e := <-r.ch:
					r.write(context.Background(), e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e *models.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	err := r.store.InsertEvent(ctx, e)
	if err == nil {
		metrics.RecordEvent("written")
		return
	}
	log := r.logger.With(zap.String("session_id", e.SessionID.String()), zap.String("kind", e.Kind), zap.Error(err))
	if r.retry != nil {
		raw, mErr := json.Marshal(e)
		if mErr == nil {
			if qErr := r.retry.EnqueueEventRetry(ctx, raw); qErr == nil {
				log.Warn("event write failed, queued for retry")
				metrics.RecordEvent("retried")
				return
			}
		}
	}
	log.Error("event write failed, dropping event")
	metrics.RecordEvent("dropped")
}
