package handraises

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// Handler handles hand raise HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a hand raise handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Raise handles POST /live/me/hand.
func (h *Handler) Raise(c *gin.Context) {
	p := middleware.Participant(c)
	hand, err := h.svc.RaiseHand(c.Request.Context(), p.SessionID, p.ID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, hand)
}

// Lower handles DELETE /live/me/hand.
func (h *Handler) Lower(c *gin.Context) {
	hand, err := h.svc.LowerOwnHand(c.Request.Context(), middleware.Participant(c))
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, hand)
}

// Queue handles GET /live/me/hands, the queue of the caller's session.
func (h *Handler) Queue(c *gin.Context) {
	list, err := h.svc.ListQueue(c.Request.Context(), middleware.Participant(c).SessionID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// ResolveAsInstructor handles POST /live/me/hands/:handId/resolve.
func (h *Handler) ResolveAsInstructor(c *gin.Context) {
	id, err := uuid.Parse(c.Param("handId"))
	if err != nil {
		response.BadRequest(c, "invalid hand raise id")
		return
	}
	hand, err := h.svc.ResolveHand(c.Request.Context(), middleware.Participant(c), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, hand)
}

// AdminQueue handles GET /live/sessions/:id/hands.
func (h *Handler) AdminQueue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.ListQueue(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// AdminResolve handles POST /live/hands/:handId/resolve.
func (h *Handler) AdminResolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("handId"))
	if err != nil {
		response.BadRequest(c, "invalid hand raise id")
		return
	}
	hand, err := h.svc.ResolveHand(c.Request.Context(), nil, id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, hand)
}
