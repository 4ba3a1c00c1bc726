// Package provider talks to the third-party media service that carries the
// actual audio and video. The live class core only creates rooms there and
// hands out access tokens.
package provider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/liveclass/config"
)

// Grant describes what a participant may do in a provider room.
type Grant struct {
	Room       string
	Identity   string
	Name       string
	CanPublish bool
	TTL        time.Duration
}

// Client is implemented by every media provider integration.
type Client interface {
	Name() string
	// URL is the endpoint clients connect to, if the provider has one.
	URL() string
	CreateRoom(ctx context.Context, room string) error
	DeleteRoom(ctx context.Context, room string) error
	AccessToken(grant Grant) (string, error)
}

// New builds the provider selected by cfg.Provider.Name.
func New(cfg *config.Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider.Name {
	case "livekit":
		logger.Info("media provider: livekit", zap.String("url", cfg.LiveKit.URL))
		return NewLiveKit(cfg.LiveKit), nil
	case "zego":
		logger.Info("media provider: zego", zap.Uint32("app_id", cfg.Zego.AppID))
		return NewZego(cfg.Zego)
	case "", "none":
		logger.Warn("media provider disabled; access tokens will be empty")
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("provider: unknown name %q", cfg.Provider.Name)
	}
}

// Noop is used when no provider is configured.
type Noop struct{}

func (Noop) Name() string                             { return "none" }
func (Noop) URL() string                              { return "" }
func (Noop) CreateRoom(context.Context, string) error { return nil }
func (Noop) DeleteRoom(context.Context, string) error { return nil }
func (Noop) AccessToken(Grant) (string, error)        { return "", nil }
