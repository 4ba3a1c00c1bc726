package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/metrics"
)

// ParticipantSweeper expires participant presence and records.
type ParticipantSweeper interface {
	MarkStaleParticipants(ctx context.Context, cutoff time.Time) (int64, error)
	DisconnectEndedSessionParticipants(ctx context.Context, at time.Time) (int64, error)
	DeleteDisconnectedParticipants(ctx context.Context, cutoff time.Time) (int64, error)
}

// HandRaiseSweeper deletes old hand raises.
type HandRaiseSweeper interface {
	DeleteHandRaisesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ChatSweeper deletes old chat messages.
type ChatSweeper interface {
	DeleteChatMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionSweeper deletes sessions that ended long ago.
type SessionSweeper interface {
	DeleteEndedSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepTargets are the stores the sweeper cleans.
type SweepTargets struct {
	Participants ParticipantSweeper
	Hands        HandRaiseSweeper
	Chat         ChatSweeper
	Sessions     SessionSweeper
}

// Retention holds how long each kind of record is kept.
type Retention struct {
	HeartbeatTimeout time.Duration
	Participants     time.Duration
	HandRaises       time.Duration
	Chat             time.Duration
	Sessions         time.Duration
}

// Sweeper periodically applies retention and repairs presence left behind by
// crashed connections or failed side effects of ending a session.
type Sweeper struct {
	targets   SweepTargets
	retention Retention
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSweeper creates a sweeper.
func NewSweeper(targets SweepTargets, retention Retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		targets:   targets,
		retention: retention,
		interval:  interval,
		logger:    logger.With(zap.String("component", "sweeper")),
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Start begins the sweep loop. Only the first call has an effect.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
		s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	})
}

// Stop ends the loop and waits for a running sweep. Only the first call has an effect.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.logger.Info("sweeper stopped")
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

type sweepTask struct {
	name string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

func (s *Sweeper) tasks() []sweepTask {
	var tasks []sweepTask
	t, r := s.targets, s.retention
	if t.Participants != nil {
		if r.HeartbeatTimeout > 0 {
			tasks = append(tasks, sweepTask{"stale_participants", func(ctx context.Context, now time.Time) (int64, error) {
				return t.Participants.MarkStaleParticipants(ctx, now.Add(-r.HeartbeatTimeout))
			}})
		}
		tasks = append(tasks, sweepTask{"ended_session_participants", func(ctx context.Context, now time.Time) (int64, error) {
			return t.Participants.DisconnectEndedSessionParticipants(ctx, now)
		}})
		if r.Participants > 0 {
			tasks = append(tasks, sweepTask{"participants", func(ctx context.Context, now time.Time) (int64, error) {
				return t.Participants.DeleteDisconnectedParticipants(ctx, now.Add(-r.Participants))
			}})
		}
	}
	if t.Hands != nil && r.HandRaises > 0 {
		tasks = append(tasks, sweepTask{"hand_raises", func(ctx context.Context, now time.Time) (int64, error) {
			return t.Hands.DeleteHandRaisesBefore(ctx, now.Add(-r.HandRaises))
		}})
	}
	if t.Chat != nil && r.Chat > 0 {
		tasks = append(tasks, sweepTask{"chat_messages", func(ctx context.Context, now time.Time) (int64, error) {
			return t.Chat.DeleteChatMessagesBefore(ctx, now.Add(-r.Chat))
		}})
	}
	if t.Sessions != nil && r.Sessions > 0 {
		tasks = append(tasks, sweepTask{"sessions", func(ctx context.Context, now time.Time) (int64, error) {
			return t.Sessions.DeleteEndedSessions(ctx, now.Add(-r.Sessions))
		}})
	}
	return tasks
}

// SweepOnce runs every task once and returns the rows each touched. A failing
// task is logged and does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) map[string]int64 {
	now := s.now()
	out := make(map[string]int64)
	for _, task := range s.tasks() {
		n, err := task.run(ctx, now)
		if err != nil {
			s.logger.Warn("sweep task failed", zap.String("task", task.name), zap.Error(err))
			continue
		}
		out[task.name] = n
		metrics.RecordSweep(task.name, n)
		if n > 0 {
			s.logger.Info("sweep task completed", zap.String("task", task.name), zap.Int64("rows", n))
		}
	}
	return out
}
