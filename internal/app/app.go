// Package app wires the live class services, stores and transports into one
// runnable unit shared by the server and worker binaries.
package app

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/config"
	"github.com/aura-webinar/liveclass/internal/auth"
	"github.com/aura-webinar/liveclass/internal/chat"
	"github.com/aura-webinar/liveclass/internal/events"
	"github.com/aura-webinar/liveclass/internal/handraises"
	"github.com/aura-webinar/liveclass/internal/participants"
	"github.com/aura-webinar/liveclass/internal/provider"
	"github.com/aura-webinar/liveclass/internal/realtime"
	"github.com/aura-webinar/liveclass/internal/recordings"
	"github.com/aura-webinar/liveclass/internal/rooms"
	"github.com/aura-webinar/liveclass/internal/sessions"
	"github.com/aura-webinar/liveclass/internal/worker"
	"github.com/aura-webinar/liveclass/pkg/queue"
	"github.com/aura-webinar/liveclass/pkg/storage"
)

// Deps are the external resources the app runs on. Redis, S3 and Provider may
// be nil.
type Deps struct {
	Stores   Stores
	Redis    *goredis.Client
	S3       *storage.S3
	Provider provider.Client
	Logger   *zap.Logger
}

// App holds the wired services.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	JWT          *auth.JWTService
	Hub          *realtime.Hub
	Gateway      *realtime.Gateway
	Queue        *queue.Queue
	Recorder     *events.Recorder
	Sessions     *sessions.Service
	Rooms        *rooms.Service
	Participants *participants.Service
	Hands        *handraises.Service
	Chat         *chat.Service
	Recordings   *recordings.Service
	Sweeper      *worker.Sweeper
	Processor    *worker.Processor

	webhook *recordings.WebhookHandler
}

// New wires every service from cfg and deps.
func New(cfg *config.Config, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prov := deps.Provider
	if prov == nil {
		prov = provider.Noop{}
	}
	st := deps.Stores
	a := &App{cfg: cfg, logger: logger, JWT: auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)}

	var (
		retry  events.RetryQueue
		ingest recordings.IngestQueue
		pub    realtime.Publisher
		sub    realtime.Subscriber
	)
	if deps.Redis != nil {
		a.Queue = queue.NewQueue(deps.Redis, logger)
		retry, ingest = a.Queue, a.Queue
		ps := realtime.NewRedisPubSub(deps.Redis, logger)
		pub, sub = ps, ps
	}

	a.Hub = realtime.NewHub(logger, pub, sub)
	a.Recorder = events.NewRecorder(st.Events, retry, cfg.Live.EventBuffer, logger)
	a.Rooms = rooms.NewService(st.Rooms, st.Sessions, prov, a.Recorder, a.Hub, logger)
	a.Sessions = sessions.NewService(st.Sessions, a.Rooms, st.Participants, st.Hands, a.Recorder, a.Hub, logger)
	a.Participants = participants.NewService(st.Participants, a.Sessions, a.Rooms, prov, a.Recorder, a.Hub, participants.Options{
		ICEServers: ICEServers(cfg.WebRTC),
		TokenTTL:   cfg.Provider.TokenTTL,
	}, logger)
	a.Hands = handraises.NewService(st.Hands, a.Sessions, st.Participants, a.Recorder, a.Hub, cfg.Live.HandRaiseRetention, logger)
	a.Chat = chat.NewService(st.Chat, a.Sessions, st.Participants, a.Recorder, a.Hub, chat.Options{
		MaxLength:    cfg.Live.ChatMaxLength,
		DefaultLimit: cfg.Live.ChatDefaultLimit,
		MaxLimit:     cfg.Live.ChatMaxLimit,
		Retention:    cfg.Live.ChatRetention,
	}, logger)

	var presigner recordings.Presigner
	var uploader worker.Uploader
	if deps.S3 != nil {
		presigner, uploader = deps.S3, deps.S3
	}
	a.Recordings = recordings.NewService(st.Recordings, a.Sessions, a.Recorder, presigner, logger)
	a.webhook = recordings.NewWebhookHandler(a.Recordings, ingest, cfg.Webhook.Secret, logger)
	a.Gateway = realtime.NewGateway(a.Hub, a.Participants, a.Chat, a.Hands, a.Sessions, cfg.Server.WSAllowedOrigins, logger)

	a.Sweeper = worker.NewSweeper(worker.SweepTargets{
		Participants: st.Participants,
		Hands:        st.Hands,
		Chat:         st.Chat,
		Sessions:     st.Sessions,
	}, worker.Retention{
		HeartbeatTimeout: cfg.Live.HeartbeatTimeout,
		Participants:     cfg.Live.ParticipantRetention,
		HandRaises:       cfg.Live.HandRaiseRetention,
		Chat:             cfg.Live.ChatRetention,
		Sessions:         cfg.Live.SessionRetention,
	}, cfg.Live.SweepInterval, logger)
	if a.Queue != nil {
		a.Processor = worker.NewProcessor(a.Queue, uploader, a.Recordings, a.Recorder, logger)
	}
	return a
}

// Start launches the background loops: the event writer, the sweeper when
// enabled and the job processor when Redis is configured.
func (a *App) Start(ctx context.Context) {
	a.Recorder.Start()
	if a.cfg.Live.RunSweeper {
		a.Sweeper.Start(ctx)
	}
	if a.Processor != nil {
		go a.Processor.Run(ctx)
		a.logger.Info("job processor started")
	}
}

// Stop drops the hub's Redis subscriptions, stops the sweeper and flushes
// buffered events. The processor stops with the context passed to Start.
func (a *App) Stop() {
	a.Hub.Close()
	a.Sweeper.Stop()
	a.Recorder.Stop()
}

// Handler returns the HTTP router.
func (a *App) Handler() *gin.Engine {
	return a.router()
}

// ICEServers turns the configured STUN/TURN urls into client ICE servers.
// TURN urls carry the configured credentials.
func ICEServers(cfg config.WebRTCConfig) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEUrls))
	for _, u := range cfg.ICEUrls {
		if u == "" {
			continue
		}
		s := webrtc.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = cfg.TURNUsername
			s.Credential = cfg.TURNCredential
		}
		servers = append(servers, s)
	}
	return servers
}
