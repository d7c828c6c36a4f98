package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes   int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	OutboundQueueSize int   `mapstructure:"outbound_queue_size" yaml:"outbound_queue_size"`
	HistoryLimit      int   `mapstructure:"history_limit" yaml:"history_limit"`
	MessagesPerMinute int   `mapstructure:"messages_per_minute" yaml:"messages_per_minute"`

	PublicRoomKey  string   `mapstructure:"public_room_key" yaml:"public_room_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	UploadDir      string `mapstructure:"upload_dir" yaml:"upload_dir"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`

	Relay RelayConfig `mapstructure:"relay" yaml:"relay"`
}

// RelayConfig selects the cross-process fan-out backend.
// Driver is one of "" (single process), "redis" or "nats".
type RelayConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`
	NATSURL      string `mapstructure:"nats_url" yaml:"nats_url"`
	NATSSubject  string `mapstructure:"nats_subject" yaml:"nats_subject"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "wirechat.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "wirechat-hub",
		JWTAudience:       "wirechat",
		JWTTTL:            24 * time.Hour,
		MaxMessageBytes:   1 << 16,
		OutboundQueueSize: 64,
		HistoryLimit:      40,
		MessagesPerMinute: 120,
		PublicRoomKey:     "public-chat",
		UploadDir:         "uploads",
		MaxUploadBytes:    10 << 20,
		Relay: RelayConfig{
			RedisAddr:    "localhost:6379",
			RedisChannel: "wirechat:events",
			NATSURL:      "nats://localhost:4222",
			NATSSubject:  "wirechat.events",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.Relay.Driver != "" {
		c.Relay.Driver = other.Relay.Driver
	}
}
