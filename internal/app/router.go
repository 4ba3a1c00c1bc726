package app

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aura-webinar/liveclass/internal/auth"
	"github.com/aura-webinar/liveclass/internal/chat"
	"github.com/aura-webinar/liveclass/internal/events"
	"github.com/aura-webinar/liveclass/internal/handraises"
	"github.com/aura-webinar/liveclass/internal/middleware"
	"github.com/aura-webinar/liveclass/internal/models"
	"github.com/aura-webinar/liveclass/internal/participants"
	"github.com/aura-webinar/liveclass/internal/recordings"
	"github.com/aura-webinar/liveclass/internal/rooms"
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/pkg/response"
)

func (a *App) router() *gin.Engine {
	logger := a.logger
	sessionHandler := sessions.NewHandler(a.Sessions, logger)
	roomHandler := rooms.NewHandler(a.Rooms, logger)
	participantHandler := participants.NewHandler(a.Participants, logger)
	eventHandler := events.NewHandler(a.Recorder, logger)
	handHandler := handraises.NewHandler(a.Hands, logger)
	chatHandler := chat.NewHandler(a.Chat, logger)
	recordingHandler := recordings.NewHandler(a.Recordings, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(a.cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks (no JWT; HMAC signature checked in handler when a secret is set)
	router.POST("/webhooks/recording-ready", a.webhook.RecordingReady)

	// WebSocket (signaling key in query or X-Signaling-Key header)
	router.GET("/live/ws", a.Gateway.ServeWs)

	live := router.Group("/live")

	// Learner entry points: the session info page, course lookup, join and reconnect
	public := live.Group("")
	public.Use(middleware.OptionalJWT(a.JWT))
	{
		public.GET("/sessions/:id/info", sessionHandler.GetPublic)
		public.GET("/active", sessionHandler.Active)
		public.POST("/sessions/:id/join", participantHandler.Join)
		public.POST("/reconnect", participantHandler.Reconnect)
	}

	// Participant-scoped routes authenticated by signaling key
	me := live.Group("/me")
	me.Use(middleware.SignalingKey(a.Participants, logger))
	{
		me.GET("", participantHandler.Me)
		me.POST("/heartbeat", participantHandler.Heartbeat)
		me.POST("/leave", participantHandler.Leave)
		me.GET("/access", participantHandler.Access)
		me.POST("/hand", handHandler.Raise)
		me.DELETE("/hand", handHandler.Lower)
		me.GET("/hands", handHandler.Queue)
		me.POST("/hands/:handId/resolve", middleware.RequireParticipantRole(models.RoleInstructor), handHandler.ResolveAsInstructor)
		me.POST("/chat", chatHandler.Post)
		me.GET("/chat", chatHandler.ListOwn)
	}

	// Admin API (JWT with admin role)
	admin := live.Group("")
	admin.Use(middleware.JWT(a.JWT), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.POST("/sessions", sessionHandler.Create)
		admin.GET("/sessions", sessionHandler.List)
		admin.GET("/sessions/:id", sessionHandler.Get)
		admin.PATCH("/sessions/:id", sessionHandler.Update)
		admin.POST("/sessions/:id/start", sessionHandler.Start)
		admin.POST("/sessions/:id/end", sessionHandler.End)
		admin.PATCH("/sessions/:id/status", sessionHandler.SetStatus)
		admin.POST("/sessions/:id/ban", sessionHandler.Ban)

		admin.GET("/sessions/:id/room", roomHandler.Get)
		admin.POST("/sessions/:id/room/rotate", roomHandler.Rotate)

		admin.GET("/sessions/:id/events", eventHandler.List)

		admin.GET("/sessions/:id/participants", participantHandler.List)
		admin.POST("/sessions/:id/participants/:pid/admit", participantHandler.Admit)
		admin.POST("/sessions/:id/participants/:pid/deny", participantHandler.Deny)
		admin.POST("/sessions/:id/participants/:pid/kick", participantHandler.Kick)
		admin.PUT("/sessions/:id/participants/:pid/waiting", participantHandler.SetWaiting)
		admin.POST("/sessions/:id/participants/:pid/media", participantHandler.Media)

		admin.GET("/sessions/:id/hands", handHandler.AdminQueue)
		admin.POST("/hands/:handId/resolve", handHandler.AdminResolve)

		admin.GET("/sessions/:id/chat", chatHandler.List)
		admin.POST("/sessions/:id/chat", chatHandler.PostSystem)

		admin.POST("/sessions/:id/recordings", recordingHandler.Attach)
		admin.GET("/sessions/:id/recordings", recordingHandler.ListBySession)
		admin.GET("/recordings/:rid", recordingHandler.Get)
		admin.GET("/recordings/:rid/download-url", recordingHandler.DownloadURL)
	}

	return router
}
