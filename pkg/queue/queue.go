package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueRecordings is the Redis list key for recording ingest jobs.
	QueueRecordings = "live:jobs:recordings"
	// QueueEvents is the Redis list key for audit events whose first write failed.
	QueueEvents = "live:jobs:events"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "live:jobs:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds a single blocking pop so workers notice shutdown.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeRecordingIngest JobType = "recording_ingest"
	JobTypeEventRetry      JobType = "event_retry"
)

// RecordingIngestPayload describes a finished provider capture to copy into S3
// and attach to its session.
type RecordingIngestPayload struct {
	SessionID     uuid.UUID `json:"session_id"`
	AdminID       string    `json:"admin_id"`
	ParticipantID *string   `json:"participant_id,omitempty"`
	PublicID      string    `json:"public_id"`
	SourceURL     string    `json:"source_url"`
	Bytes         int64     `json:"bytes"`
	DurationMs    int64     `json:"duration_ms"`
	Format        string    `json:"format"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueRecordingIngest enqueues a recording ingest job.
func (q *Queue) EnqueueRecordingIngest(ctx context.Context, payload RecordingIngestPayload) error {
	return q.enqueue(ctx, JobTypeRecordingIngest, payload)
}

// EnqueueEventRetry enqueues an already-encoded audit event for a later write.
func (q *Queue) EnqueueEventRetry(ctx context.Context, event json.RawMessage) error {
	return q.enqueue(ctx, JobTypeEventRetry, event)
}

func (q *Queue) enqueue(ctx context.Context, jobType JobType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, queueFor(jobType), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return nil
}

// Dequeue blocks for up to PollTimeout waiting on any job list. A nil job with
// nil error means the wait timed out.
func (q *Queue) Dequeue(ctx context.Context) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueRecordings, QueueEvents).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job on its own list with incremented attempt. If attempt
// reaches MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, queueFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func queueFor(t JobType) string {
	if t == JobTypeEventRetry {
		return QueueEvents
	}
	return QueueRecordings
}
