package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/pkg/queue"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// HeaderWebhookSignature carries the hex HMAC-SHA256 of the raw request body.
const HeaderWebhookSignature = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20

// RecordingReadyPayload is the body of the provider's recording-ready callback.
type RecordingReadyPayload struct {
	SessionID     string  `json:"session_id"`
	AdminID       string  `json:"admin_id"`
	ParticipantID *string `json:"participant_id"`
	PublicID      string  `json:"public_id"`
	FileURL       string  `json:"file_url"`
	Bytes         int64   `json:"bytes"`
	DurationMs    int64   `json:"duration_ms"`
	Format        string  `json:"format"`
}

// IngestQueue takes recordings to copy into the recordings bucket.
type IngestQueue interface {
	EnqueueRecordingIngest(ctx context.Context, payload queue.RecordingIngestPayload) error
}

// WebhookHandler handles recording callbacks from the media provider.
type WebhookHandler struct {
	svc    *Service
	queue  IngestQueue
	secret string
	logger *zap.Logger
}

// NewWebhookHandler creates a webhook handler. With a nil queue recordings are
// attached directly with the provider URL. An empty secret disables signature checks.
func NewWebhookHandler(svc *Service, q IngestQueue, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{svc: svc, queue: q, secret: secret, logger: logger}
}

// RecordingReady handles POST /webhooks/recording-ready.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "could not read body")
		return
	}
	if h.secret != "" && !ValidSignature(h.secret, raw, c.GetHeader(HeaderWebhookSignature)) {
		response.Unauthorized(c, "invalid webhook signature")
		return
	}
	var body RecordingReadyPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		response.BadRequest(c, "invalid session_id")
		return
	}
	if body.FileURL == "" || body.PublicID == "" {
		response.BadRequest(c, "file_url and public_id required")
		return
	}
	ctx := c.Request.Context()

	if h.queue != nil {
		sess, err := h.svc.sessions.GetSession(ctx, sessionID)
		if err != nil {
			httputil.RespondError(c, h.logger, err)
			return
		}
		adminID := body.AdminID
		if adminID == "" {
			adminID = sess.HostAdminID
		}
		err = h.queue.EnqueueRecordingIngest(ctx, queue.RecordingIngestPayload{
			SessionID:     sessionID,
			AdminID:       adminID,
			ParticipantID: body.ParticipantID,
			PublicID:      body.PublicID,
			SourceURL:     body.FileURL,
			Bytes:         body.Bytes,
			DurationMs:    body.DurationMs,
			Format:        body.Format,
		})
		if err == nil {
			h.logger.Info("recording ingest queued",
				zap.String("session_id", sessionID.String()), zap.String("public_id", body.PublicID))
			c.JSON(http.StatusAccepted, gin.H{"success": true, "status": "queued"})
			return
		}
		h.logger.Warn("enqueue recording ingest failed, attaching provider url", zap.Error(err))
	}

	rec, err := h.svc.AttachRecording(ctx, sessionID, body.AdminID, ExternalRef{
		URL:           body.FileURL,
		PublicID:      body.PublicID,
		Bytes:         body.Bytes,
		DurationMs:    body.DurationMs,
		Format:        body.Format,
		ParticipantID: body.ParticipantID,
	})
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, rec)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares sig against the expected signature in constant time.
// An optional "sha256=" prefix is accepted.
func ValidSignature(secret string, body []byte, sig string) bool {
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}
