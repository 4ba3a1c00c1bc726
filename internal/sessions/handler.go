package sessions

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/internal/httputil"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/pkg/response"
)

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// CreateRequest is the body for POST /live/sessions.
type CreateRequest struct {
	CourseID                string  `json:"course_id" binding:"required"`
	CourseSlug              string  `json:"course_slug"`
	CourseName              string  `json:"course_name"`
	Title                   string  `json:"title"`
	ScheduledStart          *string `json:"scheduled_start"`
	ScheduledEnd            *string `json:"scheduled_end"`
	HostDisplayName         string  `json:"host_display_name"`
	WaitingRoomEnabled      bool    `json:"waiting_room_enabled"`
	Passcode                string  `json:"passcode"`
	AllowStudentAudio       bool    `json:"allow_student_audio"`
	AllowStudentVideo       bool    `json:"allow_student_video"`
	AllowStudentScreenShare bool    `json:"allow_student_screen_share"`
}

// UpdateRequest is the body for PATCH /live/sessions/:id.
type UpdateRequest struct {
	Title                   *string `json:"title"`
	ScheduledStart          *string `json:"scheduled_start"`
	ScheduledEnd            *string `json:"scheduled_end"`
	WaitingRoomEnabled      *bool   `json:"waiting_room_enabled"`
	Locked                  *bool   `json:"locked"`
	Passcode                *string `json:"passcode"`
	RotateMeetingToken      bool    `json:"rotate_meeting_token"`
	AllowStudentAudio       *bool   `json:"allow_student_audio"`
	AllowStudentVideo       *bool   `json:"allow_student_video"`
	AllowStudentScreenShare *bool   `json:"allow_student_screen_share"`
}

// StatusRequest is the body for PATCH /live/sessions/:id/status.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// BanRequest is the body for POST /live/sessions/:id/ban.
type BanRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// AdminView exposes the instructor secrets to the admin that owns the session.
type AdminView struct {
	*models.Session
	HostSecret   string `json:"host_secret"`
	MeetingToken string `json:"meeting_token"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func adminView(s *models.Session) AdminView {
	return AdminView{Session: s, HostSecret: s.HostSecret, MeetingToken: s.MeetingToken}
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /live/sessions (admin only).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	start, err := parseTime(req.ScheduledStart)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_start")
		return
	}
	end, err := parseTime(req.ScheduledEnd)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_end")
		return
	}
	hostName := req.HostDisplayName
	if hostName == "" {
		hostName = c.GetString(middleware.ContextUserName)
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), CreateInput{
		CourseID:                req.CourseID,
		CourseSlug:              req.CourseSlug,
		CourseName:              req.CourseName,
		Title:                   req.Title,
		ScheduledStart:          start,
		ScheduledEnd:            end,
		HostAdminID:             middleware.UserID(c),
		HostDisplayName:         hostName,
		WaitingRoomEnabled:      req.WaitingRoomEnabled,
		Passcode:                req.Passcode,
		AllowStudentAudio:       req.AllowStudentAudio,
		AllowStudentVideo:       req.AllowStudentVideo,
		AllowStudentScreenShare: req.AllowStudentScreenShare,
	})
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.Created(c, adminView(sess))
}

// List handles GET /live/sessions?status=&limit=.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.svc.ListSessions(c.Request.Context(), models.SessionStatus(c.Query("status")), limit)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /live/sessions/:id for admins.
func (h *Handler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.GetSession(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, adminView(sess))
}

// GetPublic handles GET /live/sessions/:id/info for learners.
func (h *Handler) GetPublic(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.GetSession(c.Request.Context(), id)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, sess.View())
}

// Active handles GET /live/active?course=. The course may be an id, a slug or a
// course page path.
func (h *Handler) Active(c *gin.Context) {
	sess, err := h.svc.FindActiveByCourse(c.Request.Context(), c.Query("course"))
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{
		"id":                sess.ID,
		"title":             sess.Title,
		"status":            sess.Status,
		"started_at":        sess.StartedAt,
		"requires_passcode": sess.HasPasscode(),
	})
}

// Update handles PATCH /live/sessions/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	start, err := parseTime(req.ScheduledStart)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_start")
		return
	}
	end, err := parseTime(req.ScheduledEnd)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_end")
		return
	}
	sess, err := h.svc.UpdateSession(c.Request.Context(), id, UpdateInput{
		Title:                   req.Title,
		ScheduledStart:          start,
		ScheduledEnd:            end,
		WaitingRoomEnabled:      req.WaitingRoomEnabled,
		Locked:                  req.Locked,
		Passcode:                req.Passcode,
		RotateMeetingToken:      req.RotateMeetingToken,
		AllowStudentAudio:       req.AllowStudentAudio,
		AllowStudentVideo:       req.AllowStudentVideo,
		AllowStudentScreenShare: req.AllowStudentScreenShare,
	})
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, adminView(sess))
}

// Start handles POST /live/sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	h.transition(c, models.SessionStatusLive)
}

// End handles POST /live/sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	h.transition(c, models.SessionStatusEnded)
}

// SetStatus handles PATCH /live/sessions/:id/status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.transition(c, models.SessionStatus(req.Status))
}

func (h *Handler) transition(c *gin.Context, next models.SessionStatus) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	sess, err := h.svc.TransitionStatus(c.Request.Context(), id, next)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, sess)
}

// Ban handles POST /live/sessions/:id/ban.
func (h *Handler) Ban(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sess, err := h.svc.BanIdentity(c.Request.Context(), id, req.Identity)
	if err != nil {
		httputil.RespondError(c, h.logger, err)
		return
	}
	response.OK(c, gin.H{"session_id": sess.ID, "banned_identities": sess.BannedIdentities})
}
