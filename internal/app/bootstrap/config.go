package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config is the resolved runtime configuration of the matching service.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver      string
	BalanceStoreDriver string
	DatabaseURL        string
	RedisURL           string
	MaxDBConns         int32
	BalanceTTL         time.Duration

	MatchingMaxAttempts int
	MatchingBackoff     time.Duration
	MatchExpiry         time.Duration
	CompensationTimeout time.Duration
	SweepBatchSize      int
	ReconcilePageSize   int

	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaTopicByEvent map[string]string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxClaimTTL       time.Duration
	OutboxMaxRetries     int
	ConsumerPollInterval time.Duration

	ExpirySweepInterval  time.Duration
	ReallocationInterval time.Duration
	ReallocationLookback time.Duration
	OverMatchInterval    time.Duration
	ReconcileInterval    time.Duration
	ReconcileResetCache  bool
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Dependencies struct {
		StorageDriver      string   `yaml:"storage_driver"`
		BalanceStoreDriver string   `yaml:"balance_store_driver"`
		PostgresURL        string   `yaml:"postgres_url"`
		RedisURL           string   `yaml:"redis_url"`
		KafkaBrokers       []string `yaml:"kafka_brokers"`
	} `yaml:"dependencies"`
	Matching struct {
		MaxAttempts      int    `yaml:"max_attempts"`
		BackoffBase      string `yaml:"backoff_base"`
		BalanceTTL       string `yaml:"balance_ttl"`
		MatchExpiry      string `yaml:"match_expiry"`
		CompensationTime string `yaml:"compensation_timeout"`
	} `yaml:"matching"`
	Events struct {
		GroupID      string            `yaml:"group_id"`
		TopicByEvent map[string]string `yaml:"topic_by_event"`
	} `yaml:"events"`
	Sweeps struct {
		BatchSize            int    `yaml:"batch_size"`
		ExpiryInterval       string `yaml:"expiry_interval"`
		ReallocationInterval string `yaml:"reallocation_interval"`
		ReallocationLookback string `yaml:"reallocation_lookback"`
		OverMatchInterval    string `yaml:"over_match_interval"`
		ReconcileInterval    string `yaml:"reconcile_interval"`
		ReconcileResetCache  *bool  `yaml:"reconcile_reset_cache"`
	} `yaml:"sweeps"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "matchbot-matching",
		HTTPPort:             8080,
		GRPCPort:             9090,
		StorageDriver:        DriverPostgres,
		BalanceStoreDriver:   DriverRedis,
		MaxDBConns:           20,
		BalanceTTL:           24 * time.Hour,
		MatchingMaxAttempts:  10,
		MatchingBackoff:      5 * time.Millisecond,
		MatchExpiry:          32 * time.Minute,
		CompensationTimeout:  10 * time.Second,
		SweepBatchSize:       100,
		ReconcilePageSize:    200,
		KafkaGroupID:         "matchbot-matching",
		OutboxPollInterval:   2 * time.Second,
		OutboxBatchSize:      100,
		OutboxClaimTTL:       30 * time.Second,
		OutboxMaxRetries:     5,
		ConsumerPollInterval: 2 * time.Second,
		ExpirySweepInterval:  time.Minute,
		ReallocationInterval: time.Hour,
		ReallocationLookback: 72 * time.Hour,
		OverMatchInterval:    15 * time.Minute,
		ReconcileInterval:    30 * time.Minute,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.BalanceStoreDriver = strings.ToLower(strings.TrimSpace(envOrDefault("BALANCE_STORE_DRIVER", cfg.BalanceStoreDriver)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envOrDefault("KAFKA_GROUP_ID", cfg.KafkaGroupID)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.MatchingMaxAttempts = envInt("MATCHING_MAX_ATTEMPTS", cfg.MatchingMaxAttempts)
	cfg.MatchingBackoff = time.Duration(envInt("MATCHING_BACKOFF_MS", int(cfg.MatchingBackoff.Milliseconds()))) * time.Millisecond
	cfg.BalanceTTL = time.Duration(envInt("BALANCE_TTL_HOURS", int(cfg.BalanceTTL.Hours()))) * time.Hour
	cfg.MatchExpiry = time.Duration(envInt("MATCH_EXPIRY_MINUTES", int(cfg.MatchExpiry.Minutes()))) * time.Minute
	cfg.SweepBatchSize = envInt("SWEEP_BATCH_SIZE", cfg.SweepBatchSize)

	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	cfg.ExpirySweepInterval = time.Duration(envInt("EXPIRY_SWEEP_SECONDS", int(cfg.ExpirySweepInterval.Seconds()))) * time.Second
	cfg.ReallocationInterval = time.Duration(envInt("REALLOCATION_SWEEP_SECONDS", int(cfg.ReallocationInterval.Seconds()))) * time.Second
	cfg.ReallocationLookback = time.Duration(envInt("REALLOCATION_LOOKBACK_HOURS", int(cfg.ReallocationLookback.Hours()))) * time.Hour
	cfg.OverMatchInterval = time.Duration(envInt("OVER_MATCH_SWEEP_SECONDS", int(cfg.OverMatchInterval.Seconds()))) * time.Second
	cfg.ReconcileInterval = time.Duration(envInt("RECONCILE_SWEEP_SECONDS", int(cfg.ReconcileInterval.Seconds()))) * time.Second
	cfg.ReconcileResetCache = envBool("RECONCILE_RESET_CACHE", cfg.ReconcileResetCache)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Dependencies.StorageDriver != "" {
		cfg.StorageDriver = f.Dependencies.StorageDriver
	}
	if f.Dependencies.BalanceStoreDriver != "" {
		cfg.BalanceStoreDriver = f.Dependencies.BalanceStoreDriver
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Matching.MaxAttempts > 0 {
		cfg.MatchingMaxAttempts = f.Matching.MaxAttempts
	}
	if f.Events.GroupID != "" {
		cfg.KafkaGroupID = f.Events.GroupID
	}
	if len(f.Events.TopicByEvent) > 0 {
		cfg.KafkaTopicByEvent = f.Events.TopicByEvent
	}
	if f.Sweeps.BatchSize > 0 {
		cfg.SweepBatchSize = f.Sweeps.BatchSize
	}
	if f.Sweeps.ReconcileResetCache != nil {
		cfg.ReconcileResetCache = *f.Sweeps.ReconcileResetCache
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"matching.backoff_base", f.Matching.BackoffBase, &cfg.MatchingBackoff},
		{"matching.balance_ttl", f.Matching.BalanceTTL, &cfg.BalanceTTL},
		{"matching.match_expiry", f.Matching.MatchExpiry, &cfg.MatchExpiry},
		{"matching.compensation_timeout", f.Matching.CompensationTime, &cfg.CompensationTimeout},
		{"sweeps.expiry_interval", f.Sweeps.ExpiryInterval, &cfg.ExpirySweepInterval},
		{"sweeps.reallocation_interval", f.Sweeps.ReallocationInterval, &cfg.ReallocationInterval},
		{"sweeps.reallocation_lookback", f.Sweeps.ReallocationLookback, &cfg.ReallocationLookback},
		{"sweeps.over_match_interval", f.Sweeps.OverMatchInterval, &cfg.OverMatchInterval},
		{"sweeps.reconcile_interval", f.Sweeps.ReconcileInterval, &cfg.ReconcileInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.BalanceStoreDriver {
	case DriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("missing REDIS_URL")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown balance store driver %q", c.BalanceStoreDriver)
	}
	if c.MatchingMaxAttempts <= 0 {
		return fmt.Errorf("matching max attempts must be positive")
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
