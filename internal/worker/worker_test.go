package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/recordings"
	"github.com/aura-webinar/liveclass/pkg/queue"
)

type uploader struct {
	key         string
	contentType string
	body        []byte
}

func (u *uploader) Upload(_ context.Context, bucket, key, contentType string, body io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	u.key, u.contentType, u.body = key, contentType, b
	return "https://" + bucket + ".s3.amazonaws.com/" + key, nil
}

func (u *uploader) RecordingsBucket() string { return "recs" }

type attacher struct {
	sessionID uuid.UUID
	adminID   string
	ref       recordings.ExternalRef
}

func (a *attacher) AttachRecording(_ context.Context, sessionID uuid.UUID, adminID string, ref recordings.ExternalRef) (*models.Recording, error) {
	a.sessionID, a.adminID, a.ref = sessionID, adminID, ref
	return &models.Recording{ID: uuid.New(), SessionID: sessionID, StorageKey: ref.StorageKey}, nil
}

type replayer struct{ raw json.RawMessage }

func (r *replayer) Replay(_ context.Context, raw json.RawMessage) error {
	r.raw = raw
	return nil
}

func ingestJob(t *testing.T, p queue.RecordingIngestPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &queue.Job{ID: "job-1", Type: queue.JobTypeRecordingIngest, Payload: raw}
}

func TestProcessCopiesRecordingIntoBucket(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer src.Close()

	up := &uploader{}
	att := &attacher{}
	p := NewProcessor(nil, up, att, nil, nil)
	p.SetHTTPClient(src.Client())
	sessionID := uuid.New()

	err := p.Process(context.Background(), ingestJob(t, queue.RecordingIngestPayload{
		SessionID: sessionID, AdminID: "admin-1", PublicID: "cap 1", SourceURL: src.URL + "/cap.webm", Format: "webm", Bytes: 1,
	}))
	require.NoError(t, err)

	assert.Equal(t, "recordings/"+sessionID.String()+"/cap_1.webm", up.key)
	assert.Equal(t, "video/webm", up.contentType)
	assert.Equal(t, "video-bytes", string(up.body))
	assert.Equal(t, sessionID, att.sessionID)
	assert.Equal(t, "admin-1", att.adminID)
	assert.Equal(t, up.key, att.ref.StorageKey)
	assert.Equal(t, "https://recs.s3.amazonaws.com/"+up.key, att.ref.URL)
	assert.Equal(t, int64(len("video-bytes")), att.ref.Bytes)
}

func TestProcessFailsOnBadDownload(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer src.Close()

	att := &attacher{}
	p := NewProcessor(nil, &uploader{}, att, nil, nil)
	p.SetHTTPClient(src.Client())
	err := p.Process(context.Background(), ingestJob(t, queue.RecordingIngestPayload{
		SessionID: uuid.New(), PublicID: "x", SourceURL: src.URL,
	}))
	assert.ErrorContains(t, err, "download status: 404")
	assert.Equal(t, uuid.Nil, att.sessionID, "nothing attached")
}

func TestProcessWithoutUploaderKeepsProviderURL(t *testing.T) {
	att := &attacher{}
	p := NewProcessor(nil, nil, att, nil, nil)
	require.NoError(t, p.Process(context.Background(), ingestJob(t, queue.RecordingIngestPayload{
		SessionID: uuid.New(), PublicID: "x", SourceURL: "https://cdn.example/x.mp4", Bytes: 42,
	})))
	assert.Equal(t, "https://cdn.example/x.mp4", att.ref.URL)
	assert.Empty(t, att.ref.StorageKey)
	assert.Equal(t, int64(42), att.ref.Bytes)
}

func TestProcessEventRetryAndUnknownJobs(t *testing.T) {
	rep := &replayer{}
	p := NewProcessor(nil, nil, &attacher{}, rep, nil)
	raw := json.RawMessage(`{"id":"x"}`)
	require.NoError(t, p.Process(context.Background(), &queue.Job{Type: queue.JobTypeEventRetry, Payload: raw}))
	assert.Equal(t, raw, rep.raw)

	assert.Error(t, p.Process(context.Background(), &queue.Job{Type: "bogus"}))
	assert.Error(t, NewProcessor(nil, nil, &attacher{}, nil, nil).Process(context.Background(), &queue.Job{Type: queue.JobTypeEventRetry}))
}

type scriptedQueue struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	empty   chan struct{}
	once    sync.Once
}

func (q *scriptedQueue) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	q.mu.Lock()
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, "", nil
	}
	q.mu.Unlock()
	q.once.Do(func() { close(q.empty) })
	<-ctx.Done()
	return nil, "", ctx.Err()
}

func (q *scriptedQueue) Retry(_ context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, job)
	return nil
}

func TestRunRetriesFailedJobs(t *testing.T) {
	q := &scriptedQueue{
		jobs:  []*queue.Job{{ID: "bad", Type: "bogus"}, {ID: "ok", Type: queue.JobTypeEventRetry, Payload: json.RawMessage(`{}`)}},
		empty: make(chan struct{}),
	}
	p := NewProcessor(q, nil, &attacher{}, &replayer{}, nil)
	p.SetBackoff(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-q.empty:
	case <-time.After(5 * time.Second):
		t.Fatal("queue was not drained")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not stop")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	require.Len(t, q.retried, 1)
	assert.Equal(t, "bad", q.retried[0].ID)
}
