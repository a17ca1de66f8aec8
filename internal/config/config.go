package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all plantpulse configuration.
type Config struct {
	LogLevel  string
	Engine    EngineConfig
	Server    ServerConfig
	Connector ConnectorConfig
	Output    OutputConfig
}

// EngineConfig holds model and inference settings.
type EngineConfig struct {
	ModelPath    string
	LibraryPath  string // ONNX Runtime shared library; empty = next to model
	SchemaPath   string // optional YAML feature/label schema
	LoadTimeout  time.Duration
	InferTimeout time.Duration
	CacheSize    int
	Threads      int
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	MaxBodyBytes   int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ConnectorConfig holds observation source settings for stream mode.
type ConnectorConfig struct {
	Provider     string // "mqtt" or "gateway"
	Broker       string
	ClientID     string
	Username     string
	Password     string
	Topic        string
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
}

// OutputConfig holds assessment destination settings.
type OutputConfig struct {
	Targets     []string // any of stdout, file, webhook, sqlite, mqtt
	Verbosity   string   // "minimal", "standard", "full"
	Pretty      bool
	FilePath    string
	FileMaxMB   int
	WebhookURL  string
	SQLitePath  string
	ResultTopic string
	DedupWindow time.Duration
	Async       bool
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is read first; variables
// already set in the environment take precedence.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		LogLevel: getenv("PLANTPULSE_LOG_LEVEL", "info"),
		Engine: EngineConfig{
			ModelPath:    getenv("PLANTPULSE_MODEL_PATH", "models/stress_model.onnx"),
			LibraryPath:  os.Getenv("PLANTPULSE_ORT_LIBRARY"),
			SchemaPath:   os.Getenv("PLANTPULSE_SCHEMA_PATH"),
			LoadTimeout:  getenvDuration("PLANTPULSE_LOAD_TIMEOUT", 30*time.Second),
			InferTimeout: getenvDuration("PLANTPULSE_INFER_TIMEOUT", 5*time.Second),
			CacheSize:    getenvInt("PLANTPULSE_CACHE_SIZE", 1024),
			Threads:      getenvInt("PLANTPULSE_THREADS", 1),
		},
		Server: ServerConfig{
			Addr:           getenv("PLANTPULSE_ADDR", ":4000"),
			AllowedOrigins: getenvList("PLANTPULSE_ALLOWED_ORIGINS", []string{"*"}),
			MaxBodyBytes:   int64(getenvInt("PLANTPULSE_MAX_BODY_BYTES", 1<<20)),
			ReadTimeout:    getenvDuration("PLANTPULSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getenvDuration("PLANTPULSE_WRITE_TIMEOUT", 30*time.Second),
		},
		Connector: ConnectorConfig{
			Provider:     getenv("PLANTPULSE_CONNECTOR", "mqtt"),
			Broker:       getenv("PLANTPULSE_MQTT_BROKER", "tcp://localhost:1883"),
			ClientID:     getenv("PLANTPULSE_MQTT_CLIENT_ID", "plantpulse"),
			Username:     os.Getenv("PLANTPULSE_MQTT_USERNAME"),
			Password:     os.Getenv("PLANTPULSE_MQTT_PASSWORD"),
			Topic:        getenv("PLANTPULSE_MQTT_TOPIC", "plants/+/observations"),
			Endpoint:     os.Getenv("PLANTPULSE_GATEWAY_URL"),
			APIKey:       os.Getenv("PLANTPULSE_GATEWAY_TOKEN"),
			PollInterval: getenvDuration("PLANTPULSE_POLL_INTERVAL", 30*time.Second),
		},
		Output: OutputConfig{
			Targets:     getenvList("PLANTPULSE_OUTPUT", []string{"stdout"}),
			Verbosity:   getenv("PLANTPULSE_VERBOSITY", "standard"),
			Pretty:      getenvBool("PLANTPULSE_OUTPUT_PRETTY", false),
			FilePath:    getenv("PLANTPULSE_OUTPUT_FILE", "assessments.ndjson"),
			FileMaxMB:   getenvInt("PLANTPULSE_OUTPUT_FILE_MAX_MB", 100),
			WebhookURL:  os.Getenv("PLANTPULSE_WEBHOOK_URL"),
			SQLitePath:  getenv("PLANTPULSE_SQLITE_PATH", "plantpulse.db"),
			ResultTopic: getenv("PLANTPULSE_MQTT_RESULT_TOPIC", "plants/{plant_id}/stress"),
			DedupWindow: getenvDuration("PLANTPULSE_DEDUP_WINDOW", 5*time.Second),
			Async:       getenvBool("PLANTPULSE_OUTPUT_ASYNC", true),
		},
	}
}

// Validate checks the configuration for errors. Returns all problems found,
// not just the first. mode is the CLI command ("serve", "classify",
// "stream"); connector settings are only checked for "stream".
func (c Config) Validate(mode string) error {
	var errs []error

	if _, err := os.Stat(c.Engine.ModelPath); err != nil {
		errs = append(errs, fmt.Errorf("model file not found: %s", c.Engine.ModelPath))
	}
	if c.Engine.SchemaPath != "" {
		if _, err := os.Stat(c.Engine.SchemaPath); err != nil {
			errs = append(errs, fmt.Errorf("schema file not found: %s", c.Engine.SchemaPath))
		}
	}
	if c.Engine.LoadTimeout < 0 || c.Engine.InferTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must be >= 0"))
	}
	if c.Engine.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("cache size must be >= 0, got %d", c.Engine.CacheSize))
	}

	switch c.Output.Verbosity {
	case "minimal", "standard", "full":
	default:
		errs = append(errs, fmt.Errorf("invalid verbosity %q (must be minimal, standard, or full)", c.Output.Verbosity))
	}
	if c.Output.DedupWindow < 0 {
		errs = append(errs, fmt.Errorf("dedup window must be >= 0, got %v", c.Output.DedupWindow))
	}
	for _, t := range c.Output.Targets {
		switch t {
		case "stdout", "file", "sqlite", "mqtt":
		case "webhook":
			if c.Output.WebhookURL == "" {
				errs = append(errs, fmt.Errorf("webhook output requires PLANTPULSE_WEBHOOK_URL"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown output target %q", t))
		}
	}

	if mode == "serve" && c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max body bytes must be > 0"))
	}

	if mode == "stream" {
		switch c.Connector.Provider {
		case "mqtt":
			if c.Connector.Topic == "" {
				errs = append(errs, fmt.Errorf("mqtt connector requires PLANTPULSE_MQTT_TOPIC"))
			}
		case "gateway":
			if c.Connector.Endpoint == "" {
				errs = append(errs, fmt.Errorf("gateway connector requires PLANTPULSE_GATEWAY_URL"))
			}
			if c.Connector.PollInterval <= 0 {
				errs = append(errs, fmt.Errorf("poll interval must be > 0"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown connector %q", c.Connector.Provider))
		}
	}

	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

// getenvDuration accepts Go duration strings; a bare "0" disables.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if v == "0" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

// getenvList splits a comma-separated value, dropping empty items.
func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
