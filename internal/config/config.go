// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	Risk          RiskConfig
	STT           STTConfig
	Kafka         KafkaConfig
	Limits        LimitsConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal   string
	Env         string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
}

// RiskConfig holds the scoring and alerting settings.
type RiskConfig struct {
	Locale        string
	SpokenAlerts  bool
	AlertVolume   float64
	AlertRate     float64
	AlertCooldown time.Duration
	TickInterval  time.Duration
	FFTSize       int
	Smoothing     float64
	PatternsFile  string // optional YAML pattern overrides
	StrictFrames  bool   // panic on malformed frames (development)
}

type STTConfig struct {
	Provider          string
	SampleRateHz      int
	InterimResults    bool
	AudioEncoding     string
	MockFramesPerStep int
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	TopicState string
	TopicAlert string
	Principal  string
}

// LimitsConfig bounds a single call stream.
type LimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Unparseable values
// fall back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-risk")
	env := envOrDefault("ENV", "prod")

	logFormat := envOrDefault("LOG_FORMAT", "json")
	if env == "dev" && os.Getenv("LOG_FORMAT") == "" {
		logFormat = "console"
	}

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			Env:         env,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Risk: RiskConfig{
			Locale:        envOrDefault("RISK_LOCALE", "en-US"),
			SpokenAlerts:  envOrDefaultBool("RISK_SPOKEN_ALERTS", true),
			AlertVolume:   envOrDefaultFloat("RISK_ALERT_VOLUME", 0.6),
			AlertRate:     envOrDefaultFloat("RISK_ALERT_RATE", 0.95),
			AlertCooldown: envOrDefaultDuration("RISK_ALERT_COOLDOWN", 4*time.Second),
			TickInterval:  envOrDefaultDuration("RISK_TICK_INTERVAL", 50*time.Millisecond),
			FFTSize:       envOrDefaultInt("RISK_FFT_SIZE", 2048),
			Smoothing:     envOrDefaultFloat("RISK_SMOOTHING", 0.85),
			PatternsFile:  os.Getenv("RISK_PATTERNS_FILE"),
			StrictFrames:  envOrDefaultBool("RISK_STRICT_FRAMES", false),
		},
		STT: STTConfig{
			Provider:          envOrDefault("STT_PROVIDER", "mock"),
			SampleRateHz:      envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			InterimResults:    envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:     envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			MockFramesPerStep: envOrDefaultInt("STT_MOCK_FRAMES_PER_STEP", 25),
		},
		Kafka: KafkaConfig{
			Enabled:    envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:    envOrDefaultList("KAFKA_BROKERS", nil),
			TopicState: envOrDefault("KAFKA_TOPIC_STATE", "voice.risk.state"),
			TopicAlert: envOrDefault("KAFKA_TOPIC_ALERT", "voice.risk.alert"),
			Principal:  envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Limits: LimitsConfig{
			MaxAudioBytes: envOrDefaultInt64("STREAM_MAX_AUDIO_BYTES", 64*1024*1024),
			MaxDuration:   envOrDefaultDuration("STREAM_MAX_DURATION", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: logFormat,
		},
	}
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error

	switch c.Risk.Locale {
	case "en-US", "es-ES", "fr-FR":
	default:
		errs = append(errs, fmt.Errorf("RISK_LOCALE: unsupported locale %q", c.Risk.Locale))
	}
	if c.Risk.AlertVolume < 0 || c.Risk.AlertVolume > 1 {
		errs = append(errs, fmt.Errorf("RISK_ALERT_VOLUME: %v not in [0,1]", c.Risk.AlertVolume))
	}
	if c.Risk.AlertRate <= 0 {
		errs = append(errs, fmt.Errorf("RISK_ALERT_RATE: must be positive, got %v", c.Risk.AlertRate))
	}
	if c.Risk.AlertCooldown <= 0 {
		errs = append(errs, fmt.Errorf("RISK_ALERT_COOLDOWN: must be positive, got %v", c.Risk.AlertCooldown))
	}
	if c.Risk.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("RISK_TICK_INTERVAL: must be positive, got %v", c.Risk.TickInterval))
	}
	if n := c.Risk.FFTSize; n < 32 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("RISK_FFT_SIZE: must be a power of two >= 32, got %d", n))
	}
	if c.Risk.Smoothing < 0 || c.Risk.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("RISK_SMOOTHING: %v not in [0,1)", c.Risk.Smoothing))
	}
	switch strings.ToLower(c.STT.Provider) {
	case "mock", "google", "client", "none":
	default:
		errs = append(errs, fmt.Errorf("STT_PROVIDER: unknown provider %q", c.STT.Provider))
	}
	if c.STT.SampleRateHz <= 0 {
		errs = append(errs, fmt.Errorf("STT_SAMPLE_RATE_HZ: must be positive, got %d", c.STT.SampleRateHz))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS: required when KAFKA_ENABLED is set"))
	}

	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
