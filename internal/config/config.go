package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

type ServerConfig struct {
	Port       int `mapstructure:"port" validate:"gt=0"`
	HealthPort int `mapstructure:"health_port" validate:"gt=0"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"gt=0"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type BrokerConfig struct {
	Partitions     int           `mapstructure:"partitions"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
}

// OutboxConfig tunes the relay; the envconfig overlay lets deployments
// adjust it without editing the config file.
type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" envconfig:"OUTBOX_BATCH_SIZE"`
	PollInterval  time.Duration `mapstructure:"poll_interval" envconfig:"OUTBOX_POLL_INTERVAL"`
	MaxRetries    int           `mapstructure:"max_retries" envconfig:"OUTBOX_MAX_RETRIES"`
	PublishRate   float64       `mapstructure:"publish_rate" envconfig:"OUTBOX_PUBLISH_RATE"`
	RetentionDays int           `mapstructure:"retention_days" envconfig:"OUTBOX_RETENTION_DAYS"`
	// StaleClaimAfter requeues rows orphaned in PROCESSING by a crashed relay.
	StaleClaimAfter time.Duration `mapstructure:"stale_claim_after" envconfig:"OUTBOX_STALE_CLAIM_AFTER"`
}

type RankingConfig struct {
	Scope            string  `mapstructure:"scope"`
	CarryOverWeight  float64 `mapstructure:"carry_over_weight"`
	DailyPersistTopN int64   `mapstructure:"daily_persist_top_n"`
	RollupTopN       int     `mapstructure:"rollup_top_n"`
	Timezone         string  `mapstructure:"timezone"`
}

type ScoringConfig struct {
	Like float64 `mapstructure:"like"`
	View float64 `mapstructure:"view"`
	Sale float64 `mapstructure:"sale"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("ranking", &config.Outbox); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.health_port", 8081)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("broker.partitions", 4)
	viper.SetDefault("broker.publish_timeout", "5s")
	viper.SetDefault("broker.consumer_group", "ranking-consumer")
	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.poll_interval", "5s")
	viper.SetDefault("outbox.max_retries", 3)
	viper.SetDefault("outbox.retention_days", 7)
	viper.SetDefault("outbox.stale_claim_after", "5m")
	viper.SetDefault("ranking.scope", "product")
	viper.SetDefault("ranking.carry_over_weight", 0.1)
	viper.SetDefault("ranking.daily_persist_top_n", 1000)
	viper.SetDefault("ranking.rollup_top_n", 100)
	viper.SetDefault("ranking.timezone", "UTC")
	viper.SetDefault("scoring.like", 2)
	viper.SetDefault("scoring.view", 1)
	viper.SetDefault("scoring.sale", 0.01)
}

func (c *Config) Location() (*time.Location, error) {
	if c.Ranking.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Ranking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Ranking.Timezone, err)
	}
	return loc, nil
}
