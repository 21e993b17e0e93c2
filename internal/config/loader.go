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
const DefaultConfigFile = "postforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("POSTFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
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
	setString(&cfg.Server.Port, "POSTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "POSTFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "POSTFORGE_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.RateLimit, "POSTFORGE_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "POSTFORGE_RATE_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "POSTFORGE_IDEMPOTENCY_TTL")

	setString(&cfg.Store.Backend, "POSTFORGE_STORE")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "POSTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "POSTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "POSTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "POSTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "POSTFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "POSTFORGE_NATS_SUBJECT_PREFIX")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.TextModel, "POSTFORGE_TEXT_MODEL")
	setString(&cfg.LiteLLM.GroundingModel, "POSTFORGE_GROUNDING_MODEL")
	setString(&cfg.LiteLLM.ImageModel, "POSTFORGE_IMAGE_MODEL")
	setString(&cfg.LiteLLM.ImageSize, "POSTFORGE_IMAGE_SIZE")
	setDuration(&cfg.LiteLLM.Timeout, "POSTFORGE_LITELLM_TIMEOUT")

	// Video
	setString(&cfg.Video.URL, "POSTFORGE_VIDEO_URL")
	setString(&cfg.Video.APIKey, "POSTFORGE_VIDEO_API_KEY")
	setString(&cfg.Video.Model, "POSTFORGE_VIDEO_MODEL")
	setDuration(&cfg.Video.PollInitial, "POSTFORGE_VIDEO_POLL_INITIAL")
	setDuration(&cfg.Video.PollMax, "POSTFORGE_VIDEO_POLL_MAX")
	setInt(&cfg.Video.PollAttempts, "POSTFORGE_VIDEO_POLL_ATTEMPTS")

	// Teams
	setBool(&cfg.Teams.AutoPost, "POSTFORGE_TEAMS_AUTO_POST")
	setString(&cfg.Teams.TeamID, "POSTFORGE_TEAMS_TEAM_ID")
	setString(&cfg.Teams.ChannelID, "POSTFORGE_TEAMS_CHANNEL_ID")
	setString(&cfg.Teams.WebhookURL, "POSTFORGE_TEAMS_WEBHOOK_URL")
	setString(&cfg.Teams.GraphURL, "POSTFORGE_TEAMS_GRAPH_URL")
	setString(&cfg.Teams.GraphToken, "POSTFORGE_TEAMS_GRAPH_TOKEN")

	// Orchestrator
	setDuration(&cfg.Orchestrator.StageTimeout, "POSTFORGE_STAGE_TIMEOUT")
	setInt(&cfg.Orchestrator.ConflictRetries, "POSTFORGE_CONFLICT_RETRIES")
	setDuration(&cfg.Orchestrator.QueueDrainTimeout, "POSTFORGE_QUEUE_DRAIN_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "POSTFORGE_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.GroundingTTL, "POSTFORGE_CACHE_GROUNDING_TTL")
	setString(&cfg.Cache.L2Bucket, "POSTFORGE_CACHE_L2_BUCKET")

	// Schedule
	setBool(&cfg.Schedule.Enabled, "POSTFORGE_DAILY_ENABLED")
	setString(&cfg.Schedule.TimeOfDay, "POSTFORGE_DAILY_TIME")
	setString(&cfg.Schedule.Tone, "POSTFORGE_DAILY_TONE")
	setString(&cfg.Schedule.Category, "POSTFORGE_DAILY_CATEGORY")
	setString(&cfg.Schedule.Media, "POSTFORGE_DAILY_MEDIA")

	setInt(&cfg.Breaker.MaxFailures, "POSTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "POSTFORGE_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "POSTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "POSTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "POSTFORGE_LOG_ASYNC")

	setBool(&cfg.OTEL.Enabled, "POSTFORGE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "POSTFORGE_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "POSTFORGE_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "POSTFORGE_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "POSTFORGE_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Store.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend %q must be postgres or memory", cfg.Store.Backend)
	}
	if cfg.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate limiting is enabled")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Orchestrator.StageTimeout < 0 {
		return errors.New("orchestrator.stage_timeout must be >= 0")
	}
	if cfg.Orchestrator.ConflictRetries < 0 {
		return errors.New("orchestrator.conflict_retries must be >= 0")
	}
	if cfg.Video.PollAttempts < 1 {
		return errors.New("video.poll_attempts must be >= 1")
	}
	if cfg.Video.PollInitial <= 0 || cfg.Video.PollMax < cfg.Video.PollInitial {
		return errors.New("video.poll_initial must be > 0 and <= video.poll_max")
	}
	if cfg.Teams.AutoPost && (cfg.Teams.TeamID == "" || cfg.Teams.ChannelID == "") {
		return errors.New("teams.auto_post needs teams.team_id and teams.channel_id")
	}
	if cfg.Schedule.Enabled {
		if _, err := time.Parse("15:04", cfg.Schedule.TimeOfDay); err != nil {
			return fmt.Errorf("schedule.time_of_day %q: %w", cfg.Schedule.TimeOfDay, err)
		}
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
