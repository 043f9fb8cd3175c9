package internal

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLeaderboardURL = "https://kr.api.riotgames.com/lol/league/v4/challengerleagues/by-queue/RANKED_SOLO_5x5"
	DefaultTargetTable    = "challenger_stats"
)

type StoreStrategy string

const (
	StrategyReplace StoreStrategy = "replace"
	StrategyUpsert  StoreStrategy = "upsert"
)

type Config struct {
	RiotAPIKey     string
	RiotRegion     string
	LeaderboardURL string
	RequestTimeout time.Duration

	MaxRetries     int
	BackoffFactor  float64
	KNNNeighbors   int
	ImputeMissing  bool
	LeakageColumns []string
	ExtraFields    []ExtraField

	RawDataPath       string
	ProcessedDataPath string

	StoreDriver   string
	StoreDSN      string
	StoreStrategy StoreStrategy
	TargetTable   string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisHost            string
	RedisPort            string
	RedisPassword        string
	RedisDB              int
	RateLimitRedisPrefix string
	CacheEnabled         bool
	SnapshotTTL          time.Duration

	NATSUrl      string
	NATSClientID string
	NATSEnabled  bool
	AlertSubject string
	RunSubject   string

	SlackWebhookURL string

	AppPort          string
	AppEnv           string
	LogLevel         string
	LogFile          string
	ScheduleInterval time.Duration
}

// fileConfig mirrors config.yaml. Every value can be overridden by its
// environment variable.
type fileConfig struct {
	API struct {
		Key            string `yaml:"key"`
		Region         string `yaml:"region"`
		LeaderboardURL string `yaml:"leaderboard_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"api"`
	Path struct {
		RawData       string `yaml:"raw_data"`
		ProcessedData string `yaml:"processed_data"`
		DBPath        string `yaml:"db_path"`
	} `yaml:"path"`
	Store struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Strategy string `yaml:"strategy"`
		Table    string `yaml:"table"`
	} `yaml:"store"`
	Pipeline struct {
		MaxRetries     int          `yaml:"max_retries"`
		BackoffFactor  float64      `yaml:"backoff_factor"`
		KNNNeighbors   int          `yaml:"knn_neighbors"`
		ImputeMissing  *bool        `yaml:"impute_missing"`
		LeakageColumns []string     `yaml:"leakage_columns"`
		ExtraFields    []ExtraField `yaml:"extra_fields"`
	} `yaml:"pipeline"`
	Alert struct {
		SlackWebhookURL string `yaml:"slack_webhook_url"`
		Subject         string `yaml:"subject"`
	} `yaml:"alert"`
	Redis struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Enabled  *bool  `yaml:"enabled"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	NATS struct {
		URL      string `yaml:"url"`
		ClientID string `yaml:"client_id"`
		Enabled  *bool  `yaml:"enabled"`
	} `yaml:"nats"`
	App struct {
		Port             string `yaml:"port"`
		Env              string `yaml:"env"`
		LogLevel         string `yaml:"log_level"`
		LogFile          string `yaml:"log_file"`
		ScheduleInterval string `yaml:"schedule_interval"`
	} `yaml:"app"`
}

// LoadConfig is ReadConfig followed by validation.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadConfig reads .env (when present), then the optional YAML file at path,
// then the environment. Missing required values are left for Validate.
func ReadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	return buildConfig(&fc)
}

func buildConfig(fc *fileConfig) (*Config, error) {
	timeoutSeconds, err := getIntEnvDefault("RIOT_TIMEOUT_SECONDS", orInt(fc.API.TimeoutSeconds, 10))
	if err != nil {
		return nil, err
	}
	maxRetries, err := getIntEnvDefault("MAX_RETRIES", orInt(fc.Pipeline.MaxRetries, 3))
	if err != nil {
		return nil, err
	}
	neighbors, err := getIntEnvDefault("KNN_NEIGHBORS", orInt(fc.Pipeline.KNNNeighbors, 5))
	if err != nil {
		return nil, err
	}
	redisDB, err := getIntEnvDefault("REDIS_DB", fc.Redis.DB)
	if err != nil {
		return nil, errors.New("invalid REDIS_DB value")
	}

	backoff := fc.Pipeline.BackoffFactor
	if backoff == 0 {
		backoff = 2
	}
	if v := os.Getenv("BACKOFF_FACTOR"); v != "" {
		backoff, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BACKOFF_FACTOR value: %w", err)
		}
	}

	interval, err := time.ParseDuration(getEnvDefault("SCHEDULE_INTERVAL", orString(fc.App.ScheduleInterval, "30m")))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_INTERVAL value: %w", err)
	}

	leakage := fc.Pipeline.LeakageColumns
	if v := os.Getenv("LEAKAGE_COLUMNS"); v != "" {
		leakage = splitList(v)
	}

	region := getEnvDefault("RIOT_REGION", orString(fc.API.Region, "KR"))

	cfg := &Config{
		RiotAPIKey:     getEnvDefault("RIOT_API_KEY", fc.API.Key),
		RiotRegion:     region,
		LeaderboardURL: getEnvDefault("RIOT_LEADERBOARD_URL", orString(fc.API.LeaderboardURL, LeaderboardURLForRegion(region))),
		RequestTimeout: time.Duration(timeoutSeconds) * time.Second,

		MaxRetries:     maxRetries,
		BackoffFactor:  backoff,
		KNNNeighbors:   neighbors,
		ImputeMissing:  getBoolEnvDefault("IMPUTE_MISSING", orBool(fc.Pipeline.ImputeMissing, false)),
		LeakageColumns: leakage,
		ExtraFields:    fc.Pipeline.ExtraFields,

		RawDataPath:       getEnvDefault("RAW_DATA_PATH", orString(fc.Path.RawData, "data/raw/challenger_raw.json")),
		ProcessedDataPath: getEnvDefault("PROCESSED_DATA_PATH", orString(fc.Path.ProcessedData, "data/processed/cleaned_data.csv")),

		StoreDriver: strings.ToLower(getEnvDefault("STORE_DRIVER", orString(fc.Store.Driver, "sqlite"))),
		StoreDSN:    getEnvDefault("STORE_DSN", orString(fc.Store.DSN, fc.Path.DBPath)),
		TargetTable: getEnvDefault("STORE_TABLE", orString(fc.Store.Table, DefaultTargetTable)),

		PostgresHost:     getEnvDefault("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnvDefault("POSTGRES_PORT", "5432"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresSSLMode:  getEnvDefault("POSTGRES_SSL_MODE", "disable"),

		RedisHost:            getEnvDefault("REDIS_HOST", orString(fc.Redis.Host, "localhost")),
		RedisPort:            getEnvDefault("REDIS_PORT", orString(fc.Redis.Port, "6379")),
		RedisPassword:        getEnvDefault("REDIS_PASSWORD", fc.Redis.Password),
		RedisDB:              redisDB,
		RateLimitRedisPrefix: getEnvDefault("RATE_LIMIT_REDIS_PREFIX", orString(fc.Redis.Prefix, "lol-pipeline")),
		CacheEnabled:         getBoolEnvDefault("CACHE_ENABLED", orBool(fc.Redis.Enabled, false)),
		SnapshotTTL:          6 * time.Hour,

		NATSUrl:      getEnvDefault("NATS_URL", orString(fc.NATS.URL, "nats://localhost:4222")),
		NATSClientID: getEnvDefault("NATS_CLIENT_ID", orString(fc.NATS.ClientID, "lol-pipeline")),
		NATSEnabled:  getBoolEnvDefault("NATS_ENABLED", orBool(fc.NATS.Enabled, false)),
		AlertSubject: getEnvDefault("ALERT_SUBJECT", orString(fc.Alert.Subject, "lol.pipeline.alerts")),
		RunSubject:   getEnvDefault("RUN_SUBJECT", "lol.pipeline.run"),

		SlackWebhookURL: getEnvDefault("SLACK_WEBHOOK_URL", fc.Alert.SlackWebhookURL),

		AppPort:          getEnvDefault("APP_PORT", orString(fc.App.Port, "8000")),
		AppEnv:           getEnvDefault("APP_ENV", orString(fc.App.Env, "development")),
		LogLevel:         getEnvDefault("LOG_LEVEL", orString(fc.App.LogLevel, "info")),
		LogFile:          getEnvDefault("LOG_FILE", fc.App.LogFile),
		ScheduleInterval: interval,
	}

	if cfg.StoreDriver == "postgres" && cfg.StoreDSN == "" && cfg.PostgresUser != "" {
		cfg.StoreDSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode)
	}
	if cfg.StoreDriver == "sqlite" && cfg.StoreDSN == "" {
		cfg.StoreDSN = "data/lol_data.db"
	}

	strategy := getEnvDefault("STORE_STRATEGY", fc.Store.Strategy)
	if strategy == "" {
		strategy = string(defaultStrategy(cfg.StoreDriver))
	}
	cfg.StoreStrategy = StoreStrategy(strings.ToLower(strategy))

	return cfg, nil
}

// ExtraField maps one more source field into the normalized table, next to
// DefaultFieldMappings. Kind is "number" or "string".
type ExtraField struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Kind   string `yaml:"kind"`
}

func (f ExtraField) validate() error {
	if f.Source == "" || !identifierPattern.MatchString(f.Target) {
		return fmt.Errorf("field %q -> %q needs a source and a valid target name", f.Source, f.Target)
	}
	for _, m := range DefaultFieldMappings {
		if m.Target == f.Target {
			return fmt.Errorf("target %q is already mapped", f.Target)
		}
	}
	if f.Kind != "number" && f.Kind != "string" {
		return fmt.Errorf("field %q has kind %q, want number or string", f.Source, f.Kind)
	}
	return nil
}

// defaultStrategy maps a driver to the load strategy it supports natively.
func defaultStrategy(driver string) StoreStrategy {
	if driver == "postgres" {
		return StrategyUpsert
	}
	return StrategyReplace
}

func (c *Config) validate() error {
	if c.RiotAPIKey == "" {
		return newPipelineError(KindConfigMissing, "RIOT_API_KEY is required", nil)
	}
	if c.LeaderboardURL == "" {
		return newPipelineError(KindConfigMissing, "RIOT_LEADERBOARD_URL is required", nil)
	}
	if c.RawDataPath == "" {
		return newPipelineError(KindConfigMissing, "RAW_DATA_PATH is required", nil)
	}
	if c.ProcessedDataPath == "" {
		return newPipelineError(KindConfigMissing, "PROCESSED_DATA_PATH is required", nil)
	}
	if _, ok := dialects[c.StoreDriver]; !ok {
		return newPipelineError(KindConfigMissing, "STORE_DRIVER", fmt.Errorf("unsupported driver %q", c.StoreDriver))
	}
	if c.StoreDSN == "" {
		if c.StoreDriver == "postgres" {
			return newPipelineError(KindConfigMissing, "POSTGRES_USER is required when STORE_DSN is empty", nil)
		}
		return newPipelineError(KindConfigMissing, "STORE_DSN is required", nil)
	}
	if c.StoreStrategy != StrategyReplace && c.StoreStrategy != StrategyUpsert {
		return newPipelineError(KindConfigMissing, "STORE_STRATEGY", fmt.Errorf("unsupported strategy %q", c.StoreStrategy))
	}
	if !identifierPattern.MatchString(c.TargetTable) {
		return newPipelineError(KindConfigMissing, "STORE_TABLE", fmt.Errorf("invalid table name %q", c.TargetTable))
	}
	if c.MaxRetries < 1 {
		return newPipelineError(KindConfigMissing, "MAX_RETRIES must be at least 1", nil)
	}
	if c.BackoffFactor < 1 {
		return newPipelineError(KindConfigMissing, "BACKOFF_FACTOR must be at least 1", nil)
	}
	if c.KNNNeighbors < 1 {
		return newPipelineError(KindConfigMissing, "KNN_NEIGHBORS must be at least 1", nil)
	}
	if c.ScheduleInterval <= 0 {
		return newPipelineError(KindConfigMissing, "SCHEDULE_INTERVAL must be positive", nil)
	}
	for _, f := range c.ExtraFields {
		if err := f.validate(); err != nil {
			return newPipelineError(KindConfigMissing, "extra_fields", err)
		}
	}
	return nil
}

// Validate exposes validate for callers outside LoadConfig (the pipeline
// re-checks before the first network call).
func (c *Config) Validate() error {
	return c.validate()
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return n, nil
}

func getBoolEnvDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
