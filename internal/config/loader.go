package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "concierge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CONCIERGE_PORT")
	setString(&cfg.Server.CORSOrigin, "CONCIERGE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONCIERGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONCIERGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONCIERGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONCIERGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONCIERGE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLM.URL, "CONCIERGE_LLM_URL")
	setString(&cfg.LLM.APIKey, "CONCIERGE_LLM_API_KEY")
	setString(&cfg.LLM.ChatModel, "CONCIERGE_LLM_CHAT_MODEL")
	setString(&cfg.LLM.EmbedModel, "CONCIERGE_LLM_EMBED_MODEL")
	setFloat64(&cfg.LLM.Temperature, "CONCIERGE_LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxTokens, "CONCIERGE_LLM_MAX_TOKENS")
	setString(&cfg.Logging.Level, "CONCIERGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONCIERGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CONCIERGE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CONCIERGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONCIERGE_BREAKER_TIMEOUT")
	setInt(&cfg.Autonomy.PatternThreshold, "CONCIERGE_PATTERN_THRESHOLD")
	setString(&cfg.Autonomy.RulesDir, "CONCIERGE_AUTONOMY_RULES_DIR")
	setDuration(&cfg.Confirmation.DefaultExpiry, "CONCIERGE_CONFIRM_EXPIRY")
	setDuration(&cfg.Confirmation.SweepInterval, "CONCIERGE_CONFIRM_SWEEP")
	setBool(&cfg.Sandbox.UseIsolatedRuntime, "CONCIERGE_SANDBOX_ISOLATED")
	setString(&cfg.Sandbox.Image, "CONCIERGE_SANDBOX_IMAGE")
	setDuration(&cfg.Sandbox.Timeout, "CONCIERGE_SANDBOX_TIMEOUT")
	setInt(&cfg.Sandbox.MemoryLimitMB, "CONCIERGE_SANDBOX_MEMORY_MB")
	setFloat64(&cfg.Sandbox.CPULimit, "CONCIERGE_SANDBOX_CPU_LIMIT")
	setBool(&cfg.Sandbox.NetworkEnabled, "CONCIERGE_SANDBOX_NETWORK")
	setInt(&cfg.Sandbox.OutputLimitBytes, "CONCIERGE_SANDBOX_OUTPUT_LIMIT")
	setString(&cfg.Home.BridgeURL, "CONCIERGE_HOME_BRIDGE_URL")
	setString(&cfg.Home.Token, "CONCIERGE_HOME_TOKEN")
	setString(&cfg.Comms.EmailGatewayURL, "CONCIERGE_EMAIL_GATEWAY_URL")
	setString(&cfg.Comms.SMSGatewayURL, "CONCIERGE_SMS_GATEWAY_URL")
	setString(&cfg.Comms.APIKey, "CONCIERGE_COMMS_API_KEY")
	setString(&cfg.Comms.From, "CONCIERGE_COMMS_FROM")
	setInt64(&cfg.Cache.MaxSizeMB, "CONCIERGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CONCIERGE_CACHE_TTL")
	setBool(&cfg.MCP.Enabled, "CONCIERGE_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "CONCIERGE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "CONCIERGE_MCP_API_KEY")
	setBool(&cfg.Telemetry.Enabled, "CONCIERGE_OTEL_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Autonomy.PatternThreshold < 1 {
		return errors.New("autonomy.pattern_threshold must be >= 1")
	}
	if cfg.Confirmation.DefaultExpiry <= 0 {
		return errors.New("confirmation.default_expiry must be positive")
	}
	if cfg.Sandbox.OutputLimitBytes < 1 {
		return errors.New("sandbox.output_limit_bytes must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
