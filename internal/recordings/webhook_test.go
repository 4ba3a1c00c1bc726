package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/internal/store/memory"
	"github.com/aura-webinar/liveclass/pkg/queue"
)

type ingestQueue struct {
	err      error
	payloads []queue.RecordingIngestPayload
}

func (q *ingestQueue) EnqueueRecordingIngest(_ context.Context, p queue.RecordingIngestPayload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, p)
	return nil
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"public_id":"x"}`)
	sig := Sign("s3cret", body)
	assert.True(t, ValidSignature("s3cret", body, sig))
	assert.True(t, ValidSignature("s3cret", body, "sha256="+sig))
	assert.False(t, ValidSignature("other", body, sig))
	assert.False(t, ValidSignature("s3cret", []byte(`{}`), sig))
	assert.False(t, ValidSignature("s3cret", body, "not-hex"))
	assert.False(t, ValidSignature("s3cret", body, ""))
}

type webhookFixture struct {
	router *gin.Engine
	store  *memory.Store
	queue  *ingestQueue
}

func newWebhook(t *testing.T, q *ingestQueue) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	svc := NewService(store, store, nil, nil, nil)
	var iq IngestQueue
	if q != nil {
		iq = q
	}
	h := NewWebhookHandler(svc, iq, "s3cret", nil)
	r := gin.New()
	r.POST("/webhooks/recording-ready", h.RecordingReady)
	return &webhookFixture{router: r, store: store, queue: q}
}

func (f *webhookFixture) post(t *testing.T, body interface{}, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/recording-ready", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(HeaderWebhookSignature, "sha256="+Sign("s3cret", raw))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRecordingReadyRejectsBadSignature(t *testing.T) {
	f := newWebhook(t, nil)
	w := f.post(t, RecordingReadyPayload{SessionID: uuid.NewString(), PublicID: "p", FileURL: "https://x"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecordingReadyAttachesWithoutQueue(t *testing.T) {
	f := newWebhook(t, nil)
	sess := newSession(t, f.store)

	w := f.post(t, RecordingReadyPayload{SessionID: sess.ID.String(), PublicID: "p1", FileURL: "https://cdn.example/p1.mp4", Bytes: 10}, true)
	require.Equal(t, http.StatusOK, w.Code)

	list, err := f.store.ListRecordings(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "admin-1", list[0].AdminID)

	w = f.post(t, RecordingReadyPayload{SessionID: uuid.NewString(), PublicID: "p1", FileURL: "https://x"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.post(t, RecordingReadyPayload{SessionID: "nope", PublicID: "p1", FileURL: "https://x"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordingReadyQueuesIngest(t *testing.T) {
	f := newWebhook(t, &ingestQueue{})
	sess := newSession(t, f.store)

	w := f.post(t, RecordingReadyPayload{SessionID: sess.ID.String(), PublicID: "p2", FileURL: "https://cdn.example/p2.mp4", Format: "mp4"}, true)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, "admin-1", f.queue.payloads[0].AdminID)
	assert.Equal(t, "https://cdn.example/p2.mp4", f.queue.payloads[0].SourceURL)

	list, err := f.store.ListRecordings(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "attached later by the worker")
}

func TestRecordingReadyFallsBackWhenEnqueueFails(t *testing.T) {
	f := newWebhook(t, &ingestQueue{err: errors.New("redis down")})
	sess := newSession(t, f.store)

	w := f.post(t, RecordingReadyPayload{SessionID: sess.ID.String(), PublicID: "p3", FileURL: "https://cdn.example/p3.mp4"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	list, err := f.store.ListRecordings(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
