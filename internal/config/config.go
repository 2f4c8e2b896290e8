package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                    string   `mapstructure:"env"`
	Port                   int      `mapstructure:"port"`
	InstanceID             string   `mapstructure:"instance_id"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	AllowedOrigins         []string `mapstructure:"allowed_origins"`
	RateLimitPerMin        int      `mapstructure:"rate_limit_per_min"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf(":%d", a.Port) }

func (a AppConfig) IsDev() bool { return a.Env == "" || a.Env == "dev" || a.Env == "development" }

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI string `mapstructure:"uri"`
	DB  string `mapstructure:"db"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	TopicOut string   `mapstructure:"topic_out"`
	TopicIn  string   `mapstructure:"topic_in"`
	GroupID  string   `mapstructure:"group_id"`
}

type JWTConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Alg           string `mapstructure:"alg"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	RateLimitPerSec      int   `mapstructure:"rate_limit_per_sec"`
	ClientRelay          bool  `mapstructure:"client_relay"`
}

type ChatConfig struct {
	EditWindowMinutes int `mapstructure:"edit_window_minutes"`
}

type PresenceConfig struct {
	Shards           int `mapstructure:"shards"`
	EventBuffer      int `mapstructure:"event_buffer"`
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	WS       WSConfig       `mapstructure:"ws"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Presence PresenceConfig `mapstructure:"presence"`
	Log      LogConfig      `mapstructure:"log"`

	// derived
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	EditWindow      time.Duration `mapstructure:"-"`
	Retention       time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.instance_id", "")
	v.SetDefault("app.shutdown_timeout_seconds", 10)
	v.SetDefault("app.allowed_origins", []string{"*"})
	v.SetDefault("app.rate_limit_per_min", 600)
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "connectify")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "connectify")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_out", "chat.events")
	v.SetDefault("kafka.topic_in", "chat.events")
	v.SetDefault("kafka.group_id", "")
	v.SetDefault("jwt.enabled", false)
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_limit_per_sec", 20)
	v.SetDefault("ws.client_relay", true)
	v.SetDefault("chat.edit_window_minutes", 15)
	v.SetDefault("presence.shards", 64)
	v.SetDefault("presence.event_buffer", 1024)
	v.SetDefault("presence.retention_minutes", 60)
	v.SetDefault("log.level", "info")
}

// Load reads .env, then the optional YAML file at path, then environment variables
// (MONGO_URI overrides mongo.uri and so on).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.derive()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file")
}

func (c *Config) derive() {
	if c.App.InstanceID == "" {
		c.App.InstanceID = uuid.NewString()
	}
	if c.Kafka.GroupID == "" {
		// every instance must see every relay event
		c.Kafka.GroupID = "connectify-" + c.App.InstanceID
	}
	c.Kafka.Brokers = compact(c.Kafka.Brokers)
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.EditWindow = time.Duration(c.Chat.EditWindowMinutes) * time.Minute
	c.Retention = time.Duration(c.Presence.RetentionMinutes) * time.Minute
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return errors.New("app.port missing or invalid")
	}
	if c.App.RateLimitPerMin < 0 {
		return errors.New("app.rate_limit_per_min must not be negative")
	}
	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.DB == "" {
			return errors.New("mongo.uri and mongo.db are required for the mongo driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage.driver %q (use mongo or memory)", c.Storage.Driver)
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.TopicIn == "" || c.Kafka.TopicOut == "") {
		return errors.New("kafka topics missing")
	}
	if c.JWT.Enabled {
		switch strings.ToUpper(c.JWT.Alg) {
		case "RS256":
			if c.JWT.PublicKeyPath == "" {
				return errors.New("jwt.public_key_path required for RS256")
			}
		case "HS256":
			if c.JWT.HSSecret == "" {
				return errors.New("jwt.hs_secret required for HS256")
			}
		default:
			return errors.New("invalid jwt.alg (use RS256 or HS256)")
		}
	}
	if c.WS.PingIntervalSeconds <= 0 || c.WS.WriteDeadlineSeconds <= 0 {
		return errors.New("ws intervals must be positive")
	}
	if c.WS.SendBuffer <= 0 || c.WS.RateLimitPerSec <= 0 || c.WS.MaxMessageSizeBytes <= 0 {
		return errors.New("ws limits must be positive")
	}
	if c.Chat.EditWindowMinutes <= 0 {
		return errors.New("chat.edit_window_minutes must be positive")
	}
	if c.Presence.RetentionMinutes <= 0 {
		return errors.New("presence.retention_minutes must be positive")
	}
	return nil
}
