package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingConfig  `yaml:"logging"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize      int           `yaml:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// RankingConfig holds monthly ranking configuration
type RankingConfig struct {
	// TimezoneOffset is the fixed civil offset from UTC used to key periods, e.g. "+09:00".
	TimezoneOffset string `yaml:"timezone_offset"`
	TopN           int    `yaml:"top_n"`
	DefaultLimit   int    `yaml:"default_limit"`
	MaxLimit       int    `yaml:"max_limit"`
}

// Offset parses TimezoneOffset into a duration east of UTC
func (c *RankingConfig) Offset() (time.Duration, error) {
	t, err := time.Parse("-07:00", c.TimezoneOffset)
	if err != nil {
		return 0, fmt.Errorf("parsing ranking.timezone_offset %q: %w", c.TimezoneOffset, err)
	}
	_, seconds := t.Zone()
	return time.Duration(seconds) * time.Second, nil
}

// ScheduleConfig holds the timer triggers for background jobs
type ScheduleConfig struct {
	Enabled          bool          `yaml:"enabled"`
	PresenceInterval time.Duration `yaml:"presence_interval"`
	PresenceStale    time.Duration `yaml:"presence_stale"`
	GrantHour        int           `yaml:"grant_hour"`
	GrantMinute      int           `yaml:"grant_minute"`
	RunTimeout       time.Duration `yaml:"run_timeout"`
}

// LoggingConfig holds log output configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig holds the bearer token settings of the admin routes
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 tokens. Admin routes refuse every
	// request while it is empty.
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "practice-records"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "ranking-updater"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 100
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}
	if c.Kafka.ProcessTimeout == 0 {
		c.Kafka.ProcessTimeout = 10 * time.Second
	}

	// Ranking defaults
	if c.Ranking.TimezoneOffset == "" {
		c.Ranking.TimezoneOffset = "+09:00"
	}
	if c.Ranking.TopN == 0 {
		c.Ranking.TopN = 12
	}
	if c.Ranking.DefaultLimit == 0 {
		c.Ranking.DefaultLimit = 50
	}
	if c.Ranking.MaxLimit == 0 {
		c.Ranking.MaxLimit = 500
	}

	// Schedule defaults
	if c.Schedule.PresenceInterval == 0 {
		c.Schedule.PresenceInterval = 5 * time.Minute
	}
	if c.Schedule.PresenceStale == 0 {
		c.Schedule.PresenceStale = 60 * time.Second
	}
	if c.Schedule.RunTimeout == 0 {
		c.Schedule.RunTimeout = 2 * time.Minute
	}

	// Auth defaults
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = time.Hour
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Schedule.Enabled = true
	return cfg
}

// Validate rejects settings the scheduler cannot honour
func (c *Config) Validate() error {
	if _, err := c.Ranking.Offset(); err != nil {
		return err
	}
	if c.Ranking.TopN < 1 {
		return fmt.Errorf("ranking.top_n must be positive, got %d", c.Ranking.TopN)
	}
	if c.Schedule.GrantHour < 0 || c.Schedule.GrantHour > 23 {
		return fmt.Errorf("schedule.grant_hour out of range: %d", c.Schedule.GrantHour)
	}
	if c.Schedule.GrantMinute < 0 || c.Schedule.GrantMinute > 59 {
		return fmt.Errorf("schedule.grant_minute out of range: %d", c.Schedule.GrantMinute)
	}
	return nil
}

