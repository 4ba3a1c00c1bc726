package events

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// Handler serves the audit log to admins.
type Handler struct {
	recorder *Recorder
	logger   *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(recorder *Recorder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{recorder: recorder, logger: logger}
}

// List handles GET /live/sessions/:id/events?kind=&since=&until=&limit=.
func (h *Handler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	f := models.EventFilter{Kind: c.Query("kind")}
	if f.Limit, err = optionalInt(c.Query("limit")); err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}
	if f.Since, err = optionalTime(c.Query("since")); err != nil {
		response.BadRequest(c, "invalid since")
		return
	}
	if f.Until, err = optionalTime(c.Query("until")); err != nil {
		response.BadRequest(c, "invalid until")
		return
	}
	list, err := h.recorder.List(c.Request.Context(), id, f)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
