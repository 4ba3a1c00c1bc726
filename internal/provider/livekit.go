package provider

import (
	"context"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/aura-webinar/liveclass/config"
)

// LiveKit manages rooms through the LiveKit room service and signs access tokens.
type LiveKit struct {
	client       *lksdk.RoomServiceClient
	url          string
	apiKey       string
	apiSecret    string
	emptyTimeout time.Duration
}

// NewLiveKit creates a LiveKit client from cfg.
func NewLiveKit(cfg config.LiveKitConfig) *LiveKit {
	return &LiveKit{
		client:       lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret),
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		emptyTimeout: cfg.EmptyTimeout,
	}
}

func (l *LiveKit) Name() string { return "livekit" }

func (l *LiveKit) URL() string { return l.url }

// CreateRoom creates the room ahead of the first join.
func (l *LiveKit) CreateRoom(ctx context.Context, room string) error {
	_, err := l.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         room,
		EmptyTimeout: uint32(l.emptyTimeout / time.Second),
	})
	return err
}

// DeleteRoom removes the room and disconnects everyone in it.
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	_, err := l.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
	return err
}

// AccessToken signs a room join token.
func (l *LiveKit) AccessToken(g Grant) (string, error) {
	at := auth.NewAccessToken(l.apiKey, l.apiSecret)

	canPublish := g.CanPublish
	canSubscribe := true
	canPublishData := true

	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           g.Room,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at.AddGrant(grant).
		SetIdentity(g.Identity).
		SetName(g.Name).
		SetValidFor(g.TTL)

	return at.ToJWT()
}
