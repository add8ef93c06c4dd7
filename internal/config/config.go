package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Webhook intake
	WebhookToken   string
	EventQueueSize int

	// Call lifecycle
	ReaperInterval   time.Duration
	CallMaxAge       time.Duration
	DailyRollover    bool
	Location         *time.Location
	NormalizerRules  string
	TrustEndHints    bool
	SnapshotInterval time.Duration

	// MQTT sink, disabled when Broker is empty
	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTQoS         byte
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		WebhookToken:    os.Getenv("WEBHOOK_TOKEN"),
		NormalizerRules: os.Getenv("NORMALIZER_RULES"),
		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "wallboard"),
		MQTTTopicPrefix: strings.TrimSuffix(getEnv("MQTT_TOPIC_PREFIX", "wallboard"), "/"),
	}

	// Parse WebSocket timeouts
	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	if config.EventQueueSize, err = strconv.Atoi(getEnv("EVENT_QUEUE_SIZE", "1024")); err != nil {
		return nil, fmt.Errorf("invalid EVENT_QUEUE_SIZE: %w", err)
	}
	if config.EventQueueSize <= 0 {
		return nil, fmt.Errorf("invalid EVENT_QUEUE_SIZE: must be positive, got %d", config.EventQueueSize)
	}

	if config.ReaperInterval, err = getDuration("REAPER_INTERVAL", "1m"); err != nil {
		return nil, err
	}
	if config.CallMaxAge, err = getDuration("CALL_MAX_AGE", "30m"); err != nil {
		return nil, err
	}
	if config.SnapshotInterval, err = getDuration("SNAPSHOT_INTERVAL", "0"); err != nil {
		return nil, err
	}
	if config.ReaperInterval <= 0 || config.CallMaxAge <= 0 {
		return nil, fmt.Errorf("REAPER_INTERVAL and CALL_MAX_AGE must be positive")
	}

	if config.DailyRollover, err = getBool("DAILY_ROLLOVER", false); err != nil {
		return nil, err
	}
	if config.TrustEndHints, err = getBool("TRUST_END_HINTS", false); err != nil {
		return nil, err
	}

	tz := getEnv("TIMEZONE", "Local")
	if config.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	qos, err := strconv.Atoi(getEnv("MQTT_QOS", "0"))
	if err != nil || qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid MQTT_QOS %q: must be 0, 1 or 2", os.Getenv("MQTT_QOS"))
	}
	config.MQTTQoS = byte(qos)

	return config, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration parses a Go duration; a bare number is taken as seconds
func getDuration(key, defaultValue string) (time.Duration, error) {
	raw := getEnv(key, defaultValue)
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
