package chat

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// PostRequest is the body for posting a message.
type PostRequest struct {
	Body string `json:"body"`
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Post handles POST /live/me/chat.
func (h *Handler) Post(c *gin.Context) {
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p := middleware.Participant(c)
	msg, err := h.svc.PostMessage(c.Request.Context(), p.SessionID, p.ID, req.Body)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Created(c, msg)
}

// ListOwn handles GET /live/me/chat?limit=.
func (h *Handler) ListOwn(c *gin.Context) {
	h.list(c, middleware.Participant(c).SessionID)
}

// List handles GET /live/sessions/:id/chat?limit= (admin).
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	h.list(c, id)
}

// PostSystem handles POST /live/sessions/:id/chat (admin announcement).
func (h *Handler) PostSystem(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	msg, err := h.svc.PostSystemMessage(c.Request.Context(), id, req.Body)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Created(c, msg)
}

func (h *Handler) list(c *gin.Context, sessionID uuid.UUID) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := h.svc.ListMessages(c.Request.Context(), sessionID, limit)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, msgs)
}
