package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"auction-engine/internal/domain"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	MySQL         MySQLConfig         `mapstructure:"mysql"`
	Store         StoreConfig         `mapstructure:"store"`
	Leader        LeaderConfig        `mapstructure:"leader"`
	Instance      InstanceConfig      `mapstructure:"instance"`
	Bidding       BiddingConfig       `mapstructure:"bidding"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StoreConfig selects the AuctionStore backend: memory, mysql or bolt.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	BoltPath string `mapstructure:"bolt_path"`
}

type LeaderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	Key     string        `mapstructure:"key"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type BiddingConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	AllowSelfOutbid bool          `mapstructure:"allow_self_outbid"`
	SoftClose       time.Duration `mapstructure:"soft_close"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	// IncrementRules is the default step table, keyed by price band.
	IncrementRules map[string]float64 `mapstructure:"increment_rules"`
}

// Rules returns the configured tier table, or the built-in one if empty.
func (b BiddingConfig) Rules() *domain.BidValidationRules {
	if len(b.IncrementRules) == 0 {
		return domain.DefaultBidValidationRules()
	}
	return &domain.BidValidationRules{Rules: b.IncrementRules}
}

type SchedulerConfig struct {
	Spec         string        `mapstructure:"spec"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type NotificationsConfig struct {
	Channel         string `mapstructure:"channel"`
	SettlementQueue string `mapstructure:"settlement_queue"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("mysql.migrate", true)
	v.SetDefault("store.driver", "mysql")
	v.SetDefault("store.bolt_path", "auctions.db")
	v.SetDefault("leader.enabled", true)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("leader.key", "auction_closer_leader")
	v.SetDefault("instance.id", "auction-engine-1")
	v.SetDefault("bidding.max_retries", 5)
	v.SetDefault("bidding.allow_self_outbid", false)
	v.SetDefault("bidding.soft_close", 0)
	v.SetDefault("bidding.submit_timeout", 3*time.Second)
	v.SetDefault("scheduler.spec", "@every 5s")
	v.SetDefault("scheduler.sweep_timeout", 30*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.concurrency", 8)
	v.SetDefault("notifications.channel", "auction_notifications")
	v.SetDefault("notifications.settlement_queue", "settlement_intents")
	v.SetDefault("log.level", "info")
}

// Load reads config.yaml from the usual locations, if present, and lets
// environment variables override it: scheduler.batch_size is
// SCHEDULER_BATCH_SIZE.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-engine/")

	bindEnv(v)

	// Config file is optional; defaults and environment variables suffice.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "mysql", "bolt":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Bidding.MaxRetries < 0 {
		return fmt.Errorf("bidding.max_retries must not be negative")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1")
	}
	if c.Leader.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("leader election requires redis")
	}
	if _, err := c.Bidding.Rules().Tiers(); err != nil {
		return fmt.Errorf("bidding.increment_rules: %w", err)
	}
	return nil
}

// ValidateStream checks the settings bid-stream needs on top of Validate.
// The stream runs as its own process, so it can only see auctions in a
// shared store and intents on a shared bus.
func (c *Config) ValidateStream() error {
	if c.Store.Driver != "mysql" {
		return fmt.Errorf("bid-stream requires store.driver mysql, got %q: %s stores are not shared between processes", c.Store.Driver, c.Store.Driver)
	}
	if !c.Redis.Enabled {
		return fmt.Errorf("bid-stream requires redis for notifications")
	}
	return nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s, Store: %s, Redis: %s, Instance: %s",
		c.Server.Addr(),
		c.Store.Driver,
		c.Redis.Address,
		c.Instance.ID,
	)
}
