package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the live translator service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Gemini API configuration (shared by text and live modes)
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" required:"true"`

	// Live (streaming) translation session
	LiveEndpoint       string `envconfig:"LIVE_ENDPOINT" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`
	LiveModel          string `envconfig:"LIVE_MODEL" default:"models/gemini-2.5-flash-native-audio-preview-09-2025"`
	LiveVoice          string `envconfig:"LIVE_VOICE" default:"Zephyr"`
	LiveConnectTimeout int    `envconfig:"LIVE_CONNECT_TIMEOUT" default:"20"`  // seconds, 0 disables
	LiveSendQueueSize  int    `envconfig:"LIVE_SEND_QUEUE_SIZE" default:"256"` // frames buffered before the session opens

	// Text translation
	TranslateModel   string `envconfig:"TRANSLATE_MODEL" default:"gemini-2.5-flash"`
	TranslateTimeout int    `envconfig:"TRANSLATE_TIMEOUT" default:"30"` // seconds

	// Audio configuration
	CaptureFrameSize   int `envconfig:"CAPTURE_FRAME_SIZE" default:"4096"`   // samples per frame at 16kHz
	PlaybackBufferMs   int `envconfig:"PLAYBACK_BUFFER_MS" default:"40"`     // output device buffer
	DevicePollInterval int `envconfig:"DEVICE_POLL_INTERVAL" default:"2000"` // milliseconds

	// Transcript history bounds (0 = unbounded)
	TranscriptMaxEntries int `envconfig:"TRANSCRIPT_MAX_ENTRIES" default:"0"`
	TranscriptMaxChars   int `envconfig:"TRANSCRIPT_MAX_CHARS" default:"0"`

	// Export of completed turns to external storage
	ExportBackend string `envconfig:"EXPORT_BACKEND" default:"none"` // none, dir, s3, mqtt
	ExportDir     string `envconfig:"EXPORT_DIR" default:"transcripts"`

	S3Bucket          string `envconfig:"S3_BUCKET" default:""`
	S3Region          string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint        string `envconfig:"S3_ENDPOINT" default:""` // optional, for S3-compatible stores
	S3Prefix          string `envconfig:"S3_PREFIX" default:"live-translator"`
	S3AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID" default:""`
	S3SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY" default:""`

	MQTTBrokerURL   string `envconfig:"MQTT_BROKER_URL" default:"tcp://localhost:1883"`
	MQTTClientID    string `envconfig:"MQTT_CLIENT_ID" default:""`
	MQTTUsername    string `envconfig:"MQTT_USERNAME" default:""`
	MQTTPassword    string `envconfig:"MQTT_PASSWORD" default:""`
	MQTTTopicPrefix string `envconfig:"MQTT_TOPIC_PREFIX" default:"live-translator"`
	MQTTAckTimeout  int    `envconfig:"MQTT_ACK_TIMEOUT" default:"5"` // seconds per publish

	// Resilience configuration (export writes)
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"200"`        // Initial backoff in milliseconds
	ExportTimeout              int `envconfig:"EXPORT_TIMEOUT" default:"15"`                // seconds per turn

	// Settings persistence
	SettingsBackend string `envconfig:"SETTINGS_BACKEND" default:"file"` // file, postgres
	SettingsFile    string `envconfig:"SETTINGS_FILE" default:"favorites.yaml"`
	DatabaseURL     string `envconfig:"DATABASE_URL" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.CaptureFrameSize < 256 || c.CaptureFrameSize > 16384 {
		return fmt.Errorf("CAPTURE_FRAME_SIZE must be between 256 and 16384, got %d", c.CaptureFrameSize)
	}
	if c.LiveSendQueueSize <= 0 {
		return fmt.Errorf("LIVE_SEND_QUEUE_SIZE must be positive, got %d", c.LiveSendQueueSize)
	}
	if c.LiveConnectTimeout < 0 {
		return fmt.Errorf("LIVE_CONNECT_TIMEOUT must not be negative")
	}

	switch c.ExportBackend {
	case "none", "dir", "mqtt":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when EXPORT_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unknown EXPORT_BACKEND %q", c.ExportBackend)
	}

	switch c.SettingsBackend {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SETTINGS_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown SETTINGS_BACKEND %q", c.SettingsBackend)
	}

	return nil
}

// ConnectTimeout returns the live handshake timeout, zero when disabled
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.LiveConnectTimeout) * time.Second
}

// DevicePoll returns the device re-enumeration interval
func (c *Config) DevicePoll() time.Duration {
	return time.Duration(c.DevicePollInterval) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
