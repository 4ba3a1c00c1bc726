package rooms

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// Handler handles room HTTP endpoints (admin only).
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a room handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Get handles GET /live/sessions/:id/room.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	room, err := h.svc.GetRoom(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, room)
}

// Rotate handles POST /live/sessions/:id/room/rotate.
func (h *Handler) Rotate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	room, err := h.svc.RotateProviderRoom(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, room)
}
