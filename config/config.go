package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	WebRTC   WebRTCConfig
	AWS      AWSConfig
	Provider ProviderConfig
	LiveKit  LiveKitConfig
	Zego     ZegoConfig
	Webhook  WebhookConfig
	Live     LiveConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	WSAllowedOrigins   []string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // used as-is when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// WebRTCConfig holds STUN/TURN ICE server settings handed to clients.
type WebRTCConfig struct {
	ICEUrls        []string
	TURNUsername   string
	TURNCredential string
}

// AWSConfig holds AWS credentials and the recordings bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// ProviderConfig selects the media provider: livekit, zego or none.
type ProviderConfig struct {
	Name     string
	TokenTTL time.Duration
}

// LiveKitConfig holds LiveKit server credentials.
type LiveKitConfig struct {
	URL          string
	APIKey       string
	APISecret    string
	EmptyTimeout time.Duration
}

// ZegoConfig holds ZEGOCLOUD token credentials. ServerSecret must be 32 characters.
type ZegoConfig struct {
	AppID        uint32
	ServerSecret string
}

// WebhookConfig holds the shared secret for provider callbacks.
type WebhookConfig struct {
	Secret string
}

// LiveConfig holds live class coordination settings.
type LiveConfig struct {
	StoreDriver          string // postgres or memory
	HeartbeatTimeout     time.Duration
	ParticipantRetention time.Duration
	HandRaiseRetention   time.Duration
	ChatRetention        time.Duration
	SessionRetention     time.Duration
	SweepInterval        time.Duration
	RunSweeper           bool
	ChatMaxLength        int
	ChatDefaultLimit     int
	ChatMaxLimit         int
	EventBuffer          int
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			WSAllowedOrigins:   splitTrim(getEnv("WS_ALLOWED_ORIGINS", ""), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "liveclass"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:        splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUsername:   getEnv("WEBRTC_TURN_USERNAME", ""),
			TURNCredential: getEnv("WEBRTC_TURN_CREDENTIAL", ""),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", "live-recordings"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Provider: ProviderConfig{
			Name:     strings.ToLower(getEnv("LIVE_PROVIDER", "none")),
			TokenTTL: getEnvDuration("LIVE_PROVIDER_TOKEN_TTL", 4*time.Hour),
		},
		LiveKit: LiveKitConfig{
			URL:          getEnv("LIVEKIT_URL", ""),
			APIKey:       getEnv("LIVEKIT_API_KEY", ""),
			APISecret:    getEnv("LIVEKIT_API_SECRET", ""),
			EmptyTimeout: getEnvDuration("LIVEKIT_EMPTY_TIMEOUT", 10*time.Minute),
		},
		Zego: ZegoConfig{
			AppID:        uint32(getEnvInt("ZEGO_APP_ID", 0)),
			ServerSecret: getEnv("ZEGO_SERVER_SECRET", ""),
		},
		Webhook: WebhookConfig{
			Secret: getEnv("RECORDING_WEBHOOK_SECRET", ""),
		},
		Live: LiveConfig{
			StoreDriver:          strings.ToLower(getEnv("LIVE_STORE_DRIVER", "postgres")),
			HeartbeatTimeout:     getEnvDuration("LIVE_HEARTBEAT_TIMEOUT", 90*time.Second),
			ParticipantRetention: getEnvDuration("LIVE_PARTICIPANT_RETENTION", 7*24*time.Hour),
			HandRaiseRetention:   getEnvDuration("LIVE_HAND_RAISE_RETENTION", 7*24*time.Hour),
			ChatRetention:        getEnvDuration("LIVE_CHAT_RETENTION", 30*24*time.Hour),
			SessionRetention:     getEnvDuration("LIVE_SESSION_RETENTION", 30*24*time.Hour),
			SweepInterval:        getEnvDuration("LIVE_SWEEP_INTERVAL", 30*time.Second),
			RunSweeper:           getEnvBool("LIVE_RUN_SWEEPER", true),
			ChatMaxLength:        getEnvInt("LIVE_CHAT_MAX_LENGTH", 2000),
			ChatDefaultLimit:     getEnvInt("LIVE_CHAT_DEFAULT_LIMIT", 200),
			ChatMaxLimit:         getEnvInt("LIVE_CHAT_MAX_LIMIT", 500),
			EventBuffer:          getEnvInt("LIVE_EVENT_BUFFER", 1024),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Live.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown LIVE_STORE_DRIVER %q", c.Live.StoreDriver)
	}
	switch c.Provider.Name {
	case "none", "":
	case "livekit":
		if c.LiveKit.URL == "" || c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
			return fmt.Errorf("config: LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET required for livekit provider")
		}
	case "zego":
		if c.Zego.AppID == 0 || len(c.Zego.ServerSecret) != 32 {
			return fmt.Errorf("config: ZEGO_APP_ID and a 32 character ZEGO_SERVER_SECRET required for zego provider")
		}
	default:
		return fmt.Errorf("config: unknown LIVE_PROVIDER %q", c.Provider.Name)
	}
	if c.Live.ChatMaxLength <= 0 {
		return fmt.Errorf("config: LIVE_CHAT_MAX_LENGTH must be positive")
	}
	if c.Live.SweepInterval <= 0 {
		return fmt.Errorf("config: LIVE_SWEEP_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "168h") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
