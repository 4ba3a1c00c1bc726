// Package worker runs the background jobs of the live class service: the
// Redis job processor and the retention sweeper.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/recordings"
	"github.com/aura-webinar/liveclass/pkg/queue"
	"github.com/aura-webinar/liveclass/pkg/storage"
)

const downloadTimeout = 30 * time.Minute

// JobQueue is the consumer side of the job queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Uploader streams objects into the recordings bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	RecordingsBucket() string
}

// RecordingAttacher writes the recording ledger.
type RecordingAttacher interface {
	AttachRecording(ctx context.Context, sessionID uuid.UUID, adminID string, ref recordings.ExternalRef) (*models.Recording, error)
}

// EventReplayer rewrites audit events whose first write failed.
type EventReplayer interface {
	Replay(ctx context.Context, raw json.RawMessage) error
}

// Processor executes recording ingest and event retry jobs.
type Processor struct {
	queue      JobQueue
	s3         Uploader
	recordings RecordingAttacher
	events     EventReplayer
	http       *http.Client
	backoff    time.Duration
	logger     *zap.Logger
}

// NewProcessor creates a job processor. With a nil uploader recordings are
// attached with the provider URL instead of being copied.
func NewProcessor(q JobQueue, s3 Uploader, recs RecordingAttacher, events EventReplayer, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		queue:      q,
		s3:         s3,
		recordings: recs,
		events:     events,
		http:       &http.Client{Timeout: downloadTimeout},
		backoff:    queue.RetryBackoff,
		logger:     logger.With(zap.String("component", "job-processor")),
	}
}

// SetHTTPClient overrides the client used to download provider files.
func (p *Processor) SetHTTPClient(c *http.Client) { p.http = c }

// SetBackoff overrides the pause after a failed job.
func (p *Processor) SetBackoff(d time.Duration) { p.backoff = d }

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeRecordingIngest:
		var payload queue.RecordingIngestPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.ingest(ctx, payload)
	case queue.JobTypeEventRetry:
		if p.events == nil {
			return fmt.Errorf("event replay not configured")
		}
		return p.events.Replay(ctx, job.Payload)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

func (p *Processor) ingest(ctx context.Context, payload queue.RecordingIngestPayload) error {
	ref := recordings.ExternalRef{
		URL:           payload.SourceURL,
		PublicID:      payload.PublicID,
		Bytes:         payload.Bytes,
		DurationMs:    payload.DurationMs,
		Format:        payload.Format,
		ParticipantID: payload.ParticipantID,
	}
	if p.s3 != nil {
		url, key, size, err := p.copyToBucket(ctx, payload)
		if err != nil {
			return err
		}
		ref.URL = url
		ref.StorageKey = key
		if size > 0 {
			ref.Bytes = size
		}
	}
	rec, err := p.recordings.AttachRecording(ctx, payload.SessionID, payload.AdminID, ref)
	if err != nil {
		return fmt.Errorf("attach recording: %w", err)
	}
	p.logger.Info("recording ingest completed",
		zap.String("recording_id", rec.ID.String()), zap.String("storage_key", rec.StorageKey))
	return nil
}

// copyToBucket streams the provider file into S3 without buffering it.
func (p *Processor) copyToBucket(ctx context.Context, payload queue.RecordingIngestPayload) (url, key string, size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.SourceURL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = storage.ContentTypeForFormat(payload.Format)
	}
	key = storage.RecordingKey(payload.SessionID.String(), payload.PublicID, payload.Format)
	url, err = p.s3.Upload(ctx, p.s3.RecordingsBucket(), key, contentType, resp.Body, resp.ContentLength)
	if err != nil {
		return "", "", 0, fmt.Errorf("s3 upload: %w", err)
	}
	return url, key, resp.ContentLength, nil
}

// Run dequeues and processes jobs until ctx is cancelled. Failed jobs are
// retried up to queue.MaxRetries, then moved to the dead-letter list.
func (p *Processor) Run(ctx context.Context) {
	p.logger.Info("job processor started")
	for {
		if ctx.Err() != nil {
			p.logger.Info("job processor stopping")
			return
		}
		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}
		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
