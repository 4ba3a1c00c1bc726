package recordings

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// Handler handles recording HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Attach handles POST /live/sessions/:id/recordings. The calling admin owns the entry.
func (h *Handler) Attach(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var ref ExternalRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	// Clients cannot claim an object in the recordings bucket.
	ref.StorageKey = ""
	rec, err := h.svc.AttachRecording(c.Request.Context(), sessionID, middleware.UserID(c), ref)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Created(c, rec)
}

// ListBySession handles GET /live/sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /live/recordings/:rid.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, rec)
}

// DownloadURL handles GET /live/recordings/:rid/download-url.
func (h *Handler) DownloadURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	dl, err := h.svc.DownloadURL(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, dl)
}
