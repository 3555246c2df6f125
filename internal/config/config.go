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
	Environment    string
	SimURL         string
	AllowedOrigins []string
	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	LogLevel       string
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64

	// Pacing
	TickInterval      time.Duration
	MaxWrapUp         time.Duration
	AttemptTimeout    time.Duration
	LateAttemptGrace  time.Duration
	DropWindow        time.Duration
	DropWindowCalls   int
	DropRateBasis     string
	EWMAHalfLife      time.Duration
	ForecastLookahead time.Duration
	CampaignsFile     string

	// Dispatch
	DispatchMode    string
	DispatchURL     string
	DispatchWorkers int
	DispatchQueue   int
	DispatchCPS     float64

	// Messaging
	KafkaBrokers     []string
	KafkaDialTopic   string
	KafkaEventsTopic string

	// Tracing
	OTelExporter string
	OTelEndpoint string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("ENV", "development"),
		SimURL:           getEnv("SIM_URL", "http://localhost:8090"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DropRateBasis:    strings.ToLower(getEnv("DROP_RATE_BASIS", "attempts")),
		CampaignsFile:    getEnv("CAMPAIGNS_FILE", ""),
		DispatchMode:     strings.ToLower(getEnv("DISPATCH_MODE", "none")),
		DispatchURL:      getEnv("DISPATCH_URL", "http://localhost:8090/originate"),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaDialTopic:   getEnv("KAFKA_DIAL_TOPIC", "dialer.originate"),
		KafkaEventsTopic: getEnv("KAFKA_EVENTS_TOPIC", ""),
		OTelExporter:     strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
		OTelEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	var err error
	seconds := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"WS_READ_TIMEOUT", "60", &config.WSReadTimeout},
		{"WS_WRITE_TIMEOUT", "10", &config.WSWriteTimeout},
	}
	for _, s := range seconds {
		n, err := strconv.Atoi(getEnv(s.key, s.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", s.key, err)
		}
		*s.dst = time.Duration(n) * time.Second
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"TICK_INTERVAL", "2s", &config.TickInterval},
		{"MAX_WRAPUP", "2m", &config.MaxWrapUp},
		{"ATTEMPT_TIMEOUT", "90s", &config.AttemptTimeout},
		{"LATE_ATTEMPT_GRACE", "30m", &config.LateAttemptGrace},
		{"DROP_WINDOW", "1h", &config.DropWindow},
		{"EWMA_HALF_LIFE", "60s", &config.EWMAHalfLife},
		{"FORECAST_LOOKAHEAD", "10s", &config.ForecastLookahead},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if *d.dst <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
	}

	ints := []struct {
		key string
		def string
		dst *int
	}{
		{"DROP_WINDOW_CALLS", "0", &config.DropWindowCalls},
		{"DISPATCH_WORKERS", "8", &config.DispatchWorkers},
		{"DISPATCH_QUEUE", "1000", &config.DispatchQueue},
	}
	for _, i := range ints {
		if *i.dst, err = strconv.Atoi(getEnv(i.key, i.def)); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
	}

	if config.DispatchCPS, err = strconv.ParseFloat(getEnv("DISPATCH_CPS", "50"), 64); err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_CPS: %w", err)
	}

	switch config.DropRateBasis {
	case "attempts", "answered":
	default:
		return nil, fmt.Errorf("invalid DROP_RATE_BASIS: %q", config.DropRateBasis)
	}
	switch config.DispatchMode {
	case "none", "http", "kafka":
	default:
		return nil, fmt.Errorf("invalid DISPATCH_MODE: %q", config.DispatchMode)
	}
	if config.DispatchMode == "kafka" && len(config.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("DISPATCH_MODE=kafka requires KAFKA_BROKERS")
	}

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 4096

	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
