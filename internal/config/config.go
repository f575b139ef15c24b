// Package config loads adjudicator settings from built-in defaults, an
// optional YAML file and ADJ_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"claims_adjudicator/internal/consensus"
	"claims_adjudicator/internal/emergency"
	"claims_adjudicator/internal/jury"
	"claims_adjudicator/internal/payout"
	"claims_adjudicator/internal/reputation"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Security  SecurityConfig  `yaml:"security"`
	Events    EventsConfig    `yaml:"events"`
	Payout    PayoutConfig    `yaml:"payout"`
	Jury      JuryConfig      `yaml:"jury"`
	Consensus ConsensusConfig `yaml:"consensus"`
	Emergency EmergencyConfig `yaml:"emergency"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	LedgerGRPCAddr  string        `yaml:"ledger_grpc_addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend          string `yaml:"backend"`
	PebblePath       string `yaml:"pebble_path"`
	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	GuardTTL time.Duration `yaml:"guard_ttl"`
}

type KafkaConfig struct {
	Brokers      []string          `yaml:"brokers"`
	DefaultTopic string            `yaml:"default_topic"`
	Topics       map[string]string `yaml:"topics"`
}

type LedgerConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SecurityConfig struct {
	AdminTokenSecret string `yaml:"admin_token_secret"`
	TokenIssuer      string `yaml:"token_issuer"`
	SigningSecret    string `yaml:"signing_secret"`
}

type EventsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type PayoutConfig struct {
	MaxClaimAmount      float64 `yaml:"max_claim_amount"`
	SmallClaimCeiling   float64 `yaml:"small_claim_ceiling"`
	HighValueCeiling    float64 `yaml:"high_value_ceiling"`
	AutoApproveMaxScore float64 `yaml:"auto_approve_max_score"`
	CommunityMaxScore   float64 `yaml:"community_max_score"`
	FraudScoreThreshold float64 `yaml:"fraud_score_threshold"`
}

type JuryConfig struct {
	ReputationFloor  int     `yaml:"reputation_floor"`
	MinimumStake     float64 `yaml:"minimum_stake"`
	RideFloor        int     `yaml:"ride_floor"`
	DefaultPanelSize int     `yaml:"default_panel_size"`
	MinPanelSize     int     `yaml:"min_panel_size"`
	MaxPanelSize     int     `yaml:"max_panel_size"`

	// KnownRelationships lists party pairs with prior shared transactions.
	KnownRelationships [][]string `yaml:"known_relationships"`
}

type ConsensusConfig struct {
	ReviewWindow time.Duration `yaml:"review_window"`
	Threshold    float64       `yaml:"threshold"`
}

type EmergencyConfig struct {
	TotalCapacity        float64       `yaml:"total_capacity"`
	UtilizationThreshold float64       `yaml:"utilization_threshold"`
	MassEventThreshold   int           `yaml:"mass_event_threshold"`
	MassEventWindow      time.Duration `yaml:"mass_event_window"`
	LiquidityFloor       float64       `yaml:"liquidity_floor"`
}

// Default mirrors the package defaults of each engine.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			MetricsAddr:     ":9090",
			LogLevel:        "info",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Backend:          BackendMemory,
			PebblePath:       "data/assessments",
			PostgresMaxConns: 10,
		},
		Redis: RedisConfig{GuardTTL: 10 * time.Minute},
		Kafka: KafkaConfig{DefaultTopic: "claims.events"},
		Ledger: LedgerConfig{
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			AdminTokenSecret: "change-me-admin",
			TokenIssuer:      "claims-adjudicator",
			SigningSecret:    "change-me-signing",
		},
		Events: EventsConfig{Workers: 4, QueueSize: 256},
		Payout: PayoutConfig{
			MaxClaimAmount:      1_000_000,
			SmallClaimCeiling:   1000,
			HighValueCeiling:    50_000,
			AutoApproveMaxScore: 0.30,
			CommunityMaxScore:   0.50,
			FraudScoreThreshold: 0.70,
		},
		Jury: JuryConfig{
			ReputationFloor:  750,
			MinimumStake:     1000,
			RideFloor:        50,
			DefaultPanelSize: 5,
			MinPanelSize:     3,
			MaxPanelSize:     7,
		},
		Consensus: ConsensusConfig{
			ReviewWindow: 48 * time.Hour,
			Threshold:    0.66,
		},
		Emergency: EmergencyConfig{
			TotalCapacity:        1_000_000,
			UtilizationThreshold: 0.80,
			MassEventThreshold:   50,
			MassEventWindow:      24 * time.Hour,
			LiquidityFloor:       0.10,
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.HTTPAddr = envOrDefault("ADJ_HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.MetricsAddr = envOrDefault("ADJ_METRICS_ADDR", cfg.Server.MetricsAddr)
	cfg.Server.LedgerGRPCAddr = envOrDefault("ADJ_LEDGER_GRPC_ADDR", cfg.Server.LedgerGRPCAddr)
	cfg.Server.LogLevel = envOrDefault("ADJ_LOG_LEVEL", cfg.Server.LogLevel)

	cfg.Storage.Backend = envOrDefault("ADJ_STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.PebblePath = envOrDefault("ADJ_PEBBLE_PATH", cfg.Storage.PebblePath)
	cfg.Storage.PostgresURL = envOrDefault("ADJ_POSTGRES_URL", cfg.Storage.PostgresURL)
	cfg.Redis.URL = envOrDefault("ADJ_REDIS_URL", cfg.Redis.URL)
	cfg.Ledger.Endpoint = envOrDefault("ADJ_LEDGER_ENDPOINT", cfg.Ledger.Endpoint)

	if v := strings.TrimSpace(os.Getenv("ADJ_KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.DefaultTopic = envOrDefault("ADJ_KAFKA_TOPIC", cfg.Kafka.DefaultTopic)

	cfg.Security.AdminTokenSecret = envOrDefault("ADJ_ADMIN_TOKEN_SECRET", cfg.Security.AdminTokenSecret)
	cfg.Security.SigningSecret = envOrDefault("ADJ_SIGNING_SECRET", cfg.Security.SigningSecret)

	var err error
	if cfg.Events.Workers, err = envInt("ADJ_EVENT_WORKERS", cfg.Events.Workers); err != nil {
		return err
	}
	if cfg.Payout.SmallClaimCeiling, err = envFloat("ADJ_SMALL_CLAIM_CEILING", cfg.Payout.SmallClaimCeiling); err != nil {
		return err
	}
	if cfg.Payout.HighValueCeiling, err = envFloat("ADJ_HIGH_VALUE_CEILING", cfg.Payout.HighValueCeiling); err != nil {
		return err
	}
	if cfg.Consensus.ReviewWindow, err = envDuration("ADJ_REVIEW_WINDOW", cfg.Consensus.ReviewWindow); err != nil {
		return err
	}
	if cfg.Consensus.Threshold, err = envFloat("ADJ_CONSENSUS_THRESHOLD", cfg.Consensus.Threshold); err != nil {
		return err
	}
	if cfg.Emergency.TotalCapacity, err = envFloat("ADJ_EMERGENCY_CAPACITY", cfg.Emergency.TotalCapacity); err != nil {
		return err
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Storage.PebblePath == "" {
			problems = append(problems, "storage.pebble_path is required for the pebble backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresURL == "" {
			problems = append(problems, "storage.postgres_url is required for the postgres backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Payout.SmallClaimCeiling <= 0 || c.Payout.HighValueCeiling <= c.Payout.SmallClaimCeiling {
		problems = append(problems, "payout ceilings must satisfy 0 < small_claim_ceiling < high_value_ceiling")
	}
	if c.Jury.MinPanelSize < 1 || c.Jury.MinPanelSize > c.Jury.DefaultPanelSize || c.Jury.DefaultPanelSize > c.Jury.MaxPanelSize {
		problems = append(problems, "jury panel sizes must satisfy 1 <= min <= default <= max")
	}
	for i, pair := range c.Jury.KnownRelationships {
		if len(pair) != 2 || strings.TrimSpace(pair[0]) == "" || strings.TrimSpace(pair[1]) == "" {
			problems = append(problems, fmt.Sprintf("jury.known_relationships[%d] must name two parties", i))
		}
	}
	if c.Consensus.Threshold <= 0.5 || c.Consensus.Threshold > 1 {
		problems = append(problems, "consensus.threshold must be in (0.5, 1]")
	}
	if c.Consensus.ReviewWindow <= 0 {
		problems = append(problems, "consensus.review_window must be positive")
	}
	if c.Emergency.TotalCapacity <= 0 {
		problems = append(problems, "emergency.total_capacity must be positive")
	}
	if c.Events.Workers < 1 || c.Events.QueueSize < 1 {
		problems = append(problems, "events.workers and events.queue_size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) PayoutEngine() payout.Config {
	cfg := payout.DefaultConfig()
	cfg.SmallClaimCeiling = decimal.NewFromFloat(c.Payout.SmallClaimCeiling)
	cfg.HighValueCeiling = decimal.NewFromFloat(c.Payout.HighValueCeiling)
	cfg.AutoApproveMaxScore = c.Payout.AutoApproveMaxScore
	cfg.CommunityMaxScore = c.Payout.CommunityMaxScore
	cfg.FraudScoreThreshold = c.Payout.FraudScoreThreshold
	cfg.CommunityApprovalMin = c.Consensus.Threshold
	return cfg
}

func (c Config) MaxClaimAmount() decimal.Decimal {
	return decimal.NewFromFloat(c.Payout.MaxClaimAmount)
}

func (c Config) JurySelector() jury.Config {
	cfg := jury.DefaultConfig()
	cfg.ReputationFloor = c.Jury.ReputationFloor
	cfg.MinimumStake = decimal.NewFromFloat(c.Jury.MinimumStake)
	cfg.RideFloor = c.Jury.RideFloor
	cfg.DefaultPanelSize = c.Jury.DefaultPanelSize
	cfg.MinPanelSize = c.Jury.MinPanelSize
	cfg.MaxPanelSize = c.Jury.MaxPanelSize
	return cfg
}

// Relationships returns nil when no pairs are configured.
func (c Config) Relationships() jury.StaticRelationships {
	if len(c.Jury.KnownRelationships) == 0 {
		return nil
	}
	rel := make(jury.StaticRelationships)
	for _, pair := range c.Jury.KnownRelationships {
		rel.Add(pair[0], pair[1])
	}
	return rel
}

func (c Config) ConsensusTracker() consensus.Config {
	return consensus.Config{
		ReviewWindow: c.Consensus.ReviewWindow,
		Threshold:    c.Consensus.Threshold,
		MinPanelSize: c.Jury.MinPanelSize,
		MaxPanelSize: c.Jury.MaxPanelSize,
	}
}

func (c Config) ReputationLedger() reputation.Config {
	cfg := reputation.DefaultConfig()
	cfg.MinimumStake = decimal.NewFromFloat(c.Jury.MinimumStake)
	return cfg
}

func (c Config) EmergencyMonitor() emergency.Config {
	return emergency.Config{
		TotalCapacity:        decimal.NewFromFloat(c.Emergency.TotalCapacity),
		UtilizationThreshold: c.Emergency.UtilizationThreshold,
		MassEventThreshold:   c.Emergency.MassEventThreshold,
		MassEventWindow:      c.Emergency.MassEventWindow,
		LiquidityFloor:       c.Emergency.LiquidityFloor,
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
