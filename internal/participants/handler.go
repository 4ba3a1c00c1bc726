package participants

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/auth"
	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/response"
)

// JoinRequest is the body for POST /live/sessions/:id/join.
type JoinRequest struct {
	Role         string `json:"role" binding:"required"`
	DisplayName  string `json:"display_name"`
	HostSecret   string `json:"host_secret"`
	Passcode     string `json:"passcode"`
	MeetingToken string `json:"meeting_token"`
}

// ReconnectRequest is the body for POST /live/reconnect.
type ReconnectRequest struct {
	SignalingKey string `json:"signaling_key" binding:"required"`
}

// KickRequest is the optional body for POST .../participants/:pid/kick.
type KickRequest struct {
	Ban bool `json:"ban"`
}

// WaitingRequest is the body for PUT .../participants/:pid/waiting.
type WaitingRequest struct {
	Waiting *bool `json:"waiting" binding:"required"`
}

// Handler handles participant HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a participant handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Join handles POST /live/sessions/:id/join. Instructors must be signed in as
// admins and present the host secret.
func (h *Handler) Join(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := models.ParticipantRole(req.Role)
	if role == models.RoleInstructor && middleware.UserRole(c) != auth.RoleAdmin {
		response.Unauthorized(c, "admin authentication required")
		return
	}
	if req.HostSecret == "" {
		req.HostSecret = c.GetHeader("X-Host-Secret")
	}
	name := req.DisplayName
	if name == "" {
		name = c.GetString(middleware.ContextUserName)
	}
	res, err := h.svc.Join(c.Request.Context(), JoinInput{
		SessionID:    sessionID,
		Role:         role,
		DisplayName:  name,
		UserID:       middleware.UserID(c),
		HostSecret:   req.HostSecret,
		Passcode:     req.Passcode,
		MeetingToken: req.MeetingToken,
	})
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Created(c, res)
}

// Reconnect handles POST /live/reconnect.
func (h *Handler) Reconnect(c *gin.Context) {
	var req ReconnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondError(c, h.logger, models.ErrInvalidSignalingKey)
		return
	}
	p, err := h.svc.Reconnect(c.Request.Context(), req.SignalingKey)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	out := gin.H{"participant": p}
	if !p.Waiting {
		access, err := h.svc.IssueAccess(c.Request.Context(), p)
		if err != nil {
			httputil.RespondError(c, h.logger, err)
			return
		}
		out["access"] = access
	}
	response.OK(c, out)
}

// Me handles GET /live/me.
func (h *Handler) Me(c *gin.Context) {
	response.OK(c, middleware.Participant(c))
}

// Heartbeat handles POST /live/me/heartbeat.
func (h *Handler) Heartbeat(c *gin.Context) {
	p, err := h.svc.Heartbeat(c.Request.Context(), middleware.Participant(c).ID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"last_seen_at": p.LastSeenAt, "waiting": p.Waiting})
}

// Leave handles POST /live/me/leave.
func (h *Handler) Leave(c *gin.Context) {
	if _, err := h.svc.Leave(c.Request.Context(), middleware.Participant(c).ID); err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// Access handles GET /live/me/access and refreshes the provider token.
func (h *Handler) Access(c *gin.Context) {
	access, err := h.svc.IssueAccess(c.Request.Context(), middleware.Participant(c))
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, access)
}

// List handles GET /live/sessions/:id/participants (admin).
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.svc.ListAttendance(c.Request.Context(), sessionID)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// Admit handles POST /live/sessions/:id/participants/:pid/admit.
func (h *Handler) Admit(c *gin.Context) {
	sessionID, pid, ok := ids(c)
	if !ok {
		return
	}
	p, err := h.svc.Admit(c.Request.Context(), sessionID, pid)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, p)
}

// Deny handles POST /live/sessions/:id/participants/:pid/deny.
func (h *Handler) Deny(c *gin.Context) {
	sessionID, pid, ok := ids(c)
	if !ok {
		return
	}
	if err := h.svc.Deny(c.Request.Context(), sessionID, pid); err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// Kick handles POST /live/sessions/:id/participants/:pid/kick.
func (h *Handler) Kick(c *gin.Context) {
	sessionID, pid, ok := ids(c)
	if !ok {
		return
	}
	var req KickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if err := h.svc.Kick(c.Request.Context(), sessionID, pid, req.Ban); err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.NoContent(c)
}

// SetWaiting handles PUT /live/sessions/:id/participants/:pid/waiting.
func (h *Handler) SetWaiting(c *gin.Context) {
	sessionID, pid, ok := ids(c)
	if !ok {
		return
	}
	var req WaitingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.svc.SetWaiting(c.Request.Context(), sessionID, pid, *req.Waiting)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, p)
}

// Media handles POST /live/sessions/:id/participants/:pid/media.
func (h *Handler) Media(c *gin.Context) {
	sessionID, pid, ok := ids(c)
	if !ok {
		return
	}
	var cmd MediaCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.svc.CommandMedia(c.Request.Context(), sessionID, pid, cmd); err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Accepted(c, cmd)
}

func ids(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, uuid.Nil, false
	}
	pid, err := uuid.Parse(c.Param("pid"))
	if err != nil {
		response.BadRequest(c, "invalid participant id")
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, pid, true
}
