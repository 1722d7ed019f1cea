// Package config loads process settings from the environment, after
// reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string `mapstructure:"http_addr" validate:"required"`
	NodeID   int64  `mapstructure:"node_id" validate:"gte=0,lte=1023"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`
	LogFile   string `mapstructure:"log_file"`

	Kafka KafkaConfig `mapstructure:"kafka"`

	WSRateLimit      int           `mapstructure:"ws_rate_limit" validate:"gt=0"`
	QuoteBaseURL     string        `mapstructure:"quote_base_url" validate:"required,url"`
	QuoteMinInterval time.Duration `mapstructure:"quote_min_interval" validate:"gt=0"`

	BookDepth         int   `mapstructure:"book_depth" validate:"gt=0"`
	SequencerCapacity int64 `mapstructure:"sequencer_capacity" validate:"gt=0"`
}

// KafkaConfig keys are read from KAFKA_* variables.
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers" validate:"required_if=Enabled true,dive,hostname_port"`
	OrderTopic  string   `mapstructure:"order_topic" validate:"required"`
	EventTopic  string   `mapstructure:"event_topic"`
	GroupID     string   `mapstructure:"group_id" validate:"required"`
	Concurrency int      `mapstructure:"concurrency" validate:"gt=0"`
}

// Load reads .env files, if present, and then the environment. Variables
// already set in the environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key, which AutomaticEnv needs for Unmarshal to
// see the environment.
func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("node_id", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.order_topic", "orders")
	v.SetDefault("kafka.event_topic", "order-events")
	v.SetDefault("kafka.group_id", "tradesim")
	v.SetDefault("kafka.concurrency", 3)

	v.SetDefault("ws_rate_limit", 5)
	v.SetDefault("quote_base_url", "https://stooq.com")
	v.SetDefault("quote_min_interval", time.Second)
	v.SetDefault("book_depth", 5)
	v.SetDefault("sequencer_capacity", 4096)
}

func (c *Config) normalize() {
	c.HTTPAddr = strings.TrimSpace(c.HTTPAddr)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	brokers := c.Kafka.Brokers[:0]
	for _, b := range c.Kafka.Brokers {
		if b = strings.TrimSpace(b); len(b) > 0 {
			brokers = append(brokers, b)
		}
	}
	c.Kafka.Brokers = brokers
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SequencerCapacity&(c.SequencerCapacity-1) != 0 {
		return fmt.Errorf("invalid config: SEQUENCER_CAPACITY %d is not a power of 2", c.SequencerCapacity)
	}
	return nil
}
