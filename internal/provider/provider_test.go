package provider

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/liveclass/config"
)

const zegoSecret = "0123456789abcdef0123456789abcdef"

func TestNewSelectsProvider(t *testing.T) {
	cfg := &config.Config{}
	p, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", p.Name())

	cfg.Provider.Name = "zego"
	cfg.Zego = config.ZegoConfig{AppID: 1234, ServerSecret: zegoSecret}
	p, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "zego", p.Name())

	cfg.Provider.Name = "agora"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}

func TestNewZegoValidatesCredentials(t *testing.T) {
	_, err := NewZego(config.ZegoConfig{ServerSecret: zegoSecret})
	assert.Error(t, err)
	_, err = NewZego(config.ZegoConfig{AppID: 1, ServerSecret: "short"})
	assert.Error(t, err)
}

func TestZegoAccessToken(t *testing.T) {
	z, err := NewZego(config.ZegoConfig{AppID: 1234, ServerSecret: zegoSecret})
	require.NoError(t, err)
	require.NoError(t, z.CreateRoom(context.Background(), "room"))

	tok, err := z.AccessToken(Grant{Room: "live-abc", Identity: "p-1", CanPublish: true, TTL: time.Hour})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "04"), "token04 format")
}

func TestLiveKitAccessToken(t *testing.T) {
	lk := NewLiveKit(config.LiveKitConfig{URL: "wss://lk.example", APIKey: "key", APISecret: "a-very-long-livekit-api-secret-value"})
	assert.Equal(t, "wss://lk.example", lk.URL())

	raw, err := lk.AccessToken(Grant{Room: "live-abc", Identity: "p-1", Name: "Kim", CanPublish: false, TTL: time.Hour})
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("a-very-long-livekit-api-secret-value"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "key", claims["iss"])
	assert.Equal(t, "p-1", claims["sub"])
	video, ok := claims["video"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "live-abc", video["room"])
	assert.Equal(t, false, video["canPublish"])
}
