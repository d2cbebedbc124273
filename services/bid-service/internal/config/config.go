package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the bid service configuration loaded from environment variables.
// Callers load .env files with godotenv before calling Load.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Cache    CacheConfig
	Auth     AuthConfig
	Engine   EngineConfig
	Relay    RelayConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// DatabaseConfig holds Postgres settings. An empty URL runs the engine on
// the in-memory store.
type DatabaseConfig struct {
	URL         string        `envconfig:"BID_DB_URL" default:""`
	AutoMigrate bool          `envconfig:"BID_DB_AUTO_MIGRATE" default:"false"`
	LockTimeout time.Duration `envconfig:"BID_DB_LOCK_TIMEOUT" default:"3s"`
}

// BrokerConfig holds RabbitMQ settings.
type BrokerConfig struct {
	URL             string `envconfig:"RABBITMQ_URL" default:""`
	SuspensionQueue string `envconfig:"SUSPENSION_QUEUE" default:""`
}

// CacheConfig holds Redis settings. An empty address keeps suspensions
// and viewer counts local to the node.
type CacheConfig struct {
	RedisAddr     string        `envconfig:"REDIS_URL" default:""`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	ViewerTTL     time.Duration `envconfig:"VIEWER_COUNT_TTL" default:"30s"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	PublicKeyPath string `envconfig:"JWT_PUBLIC_KEY_PATH" default:"keys/public.pem"`
	Issuer        string `envconfig:"JWT_ISSUER" default:"auctioneer-auth"`
}

// EngineConfig holds the auction engine knobs.
type EngineConfig struct {
	NodeID           string        `envconfig:"NODE_ID" default:""`
	Retention        time.Duration `envconfig:"AUCTION_RETENTION" default:"10m"`
	StoreTimeout     time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	RetryDelay       time.Duration `envconfig:"EXPIRY_RETRY_DELAY" default:"2s"`
	HubBuffer        int           `envconfig:"HUB_BUFFER" default:"64"`
	PresenceInterval time.Duration `envconfig:"PRESENCE_INTERVAL" default:"2s"`
}

// RelayConfig holds outbox relay settings for the worker.
type RelayConfig struct {
	BatchSize int           `envconfig:"RELAY_BATCH_SIZE" default:"10"`
	Interval  time.Duration `envconfig:"RELAY_INTERVAL" default:"1s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ResolvedNodeID falls back to the hostname when NODE_ID is unset.
func (e *EngineConfig) ResolvedNodeID() string {
	if e.NodeID != "" {
		return e.NodeID
	}
	host, err := os.Hostname()
	if err != nil {
		return "bid-service"
	}
	return host
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Engine.HubBuffer <= 0 {
		return nil, fmt.Errorf("failed to load config: HUB_BUFFER must be positive")
	}

	return &cfg, nil
}
