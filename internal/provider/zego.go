package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"

	"github.com/aura-webinar/liveclass/config"
)

// roomPayload is the token04 room payload. See ZEGOCLOUD token04 docs.
type roomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// Zego signs ZEGOCLOUD token04 room tokens. ZEGOCLOUD rooms exist implicitly
// once someone logs in, so room management is a no-op.
type Zego struct {
	appID        uint32
	serverSecret string
}

// NewZego validates cfg and creates a Zego client.
func NewZego(cfg config.ZegoConfig) (*Zego, error) {
	if cfg.AppID == 0 || cfg.ServerSecret == "" {
		return nil, fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(cfg.ServerSecret) != 32 {
		return nil, fmt.Errorf("zego: server_secret must be 32 characters")
	}
	return &Zego{appID: cfg.AppID, serverSecret: cfg.ServerSecret}, nil
}

func (z *Zego) Name() string { return "zego" }

func (z *Zego) URL() string { return "" }

func (z *Zego) CreateRoom(context.Context, string) error { return nil }

func (z *Zego) DeleteRoom(context.Context, string) error { return nil }

// AccessToken grants login and, for publishers, stream publish privilege.
func (z *Zego) AccessToken(g Grant) (string, error) {
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if g.CanPublish {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload, err := json.Marshal(roomPayload{RoomID: g.Room, Privilege: privilege})
	if err != nil {
		return "", fmt.Errorf("zego: marshal payload: %w", err)
	}
	ttl := int64(g.TTL.Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	return token04.GenerateToken04(z.appID, g.Identity, z.serverSecret, ttl, string(payload))
}
