package config

import (
	"time"

	pkgconfig "github.com/iolipix/JuriNapse-sub001/pkg/config"
	"github.com/iolipix/JuriNapse-sub001/pkg/pubsub"
	"github.com/iolipix/JuriNapse-sub001/pkg/storage"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Notify   NotifyConfig
	Kafka    KafkaConfig
	Repair   RepairConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the user record backend: "gorm" or "redis".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	TimeZone        string `mapstructure:"timezone"`
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NotifyConfig configures follow notifications. Driver is "redis",
// "kafka" or "none".
type NotifyConfig struct {
	Driver  string        `mapstructure:"driver"`
	Channel string        `mapstructure:"channel"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaConfig is shared by the lifecycle consumer and the kafka notifier.
type KafkaConfig struct {
	Brokers           string `mapstructure:"brokers"`
	UserEventsTopic   string `mapstructure:"user_events_topic"`
	GroupID           string `mapstructure:"group_id"`
	ConsumerEnabled   bool   `mapstructure:"consumer_enabled"`
	Partitions        int    `mapstructure:"partitions"`
	ReplicationFactor int    `mapstructure:"replication_factor"`
}

type RepairConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type StorageConfig struct {
	Driver       string              `mapstructure:"driver"`
	AvatarURLTTL time.Duration       `mapstructure:"avatar_url_ttl"`
	Local        storage.LocalConfig `mapstructure:"local"`
	S3           storage.S3Config    `mapstructure:"s3"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var defaults = map[string]interface{}{
	"server.host":                "0.0.0.0",
	"server.port":                8096,
	"server.shutdown_timeout":    "10s",
	"store.driver":               "gorm",
	"database.driver":            "postgres",
	"database.host":              "localhost",
	"database.port":              5432,
	"database.user":              "postgres",
	"database.password":          "postgres",
	"database.dbname":            "jurinapse",
	"database.sslmode":           "disable",
	"database.timezone":          "UTC",
	"database.file_path":         "./data/social-graph.db",
	"database.max_idle_conns":    10,
	"database.max_open_conns":    100,
	"database.conn_max_lifetime": 60,
	"database.log_level":         "warn",
	"redis.address":              "localhost:6379",
	"redis.password":             "",
	"redis.db":                   0,
	"redis.key_prefix":           "graph:",
	"notify.driver":              "redis",
	"notify.channel":             "graph:notifications",
	"notify.timeout":             "5s",
	"kafka.brokers":              "localhost:9092",
	"kafka.user_events_topic":    "user-events",
	"kafka.group_id":             "social-graph-service",
	"kafka.consumer_enabled":     false,
	"kafka.partitions":           4,
	"kafka.replication_factor":   1,
	"repair.enabled":             false,
	"repair.interval":            "6h",
	"repair.batch_size":          200,
	"auth.jwt_secret":            "",
	"auth.issuer":                "",
	"storage.driver":             "none",
	"storage.avatar_url_ttl":     "1h",
	"storage.local.base_path":    "./data/avatars",
	"storage.local.url_base":     "/static/avatars",
	"log.level":                  "info",
	"log.pretty":                 false,
}

var envBindings = map[string]string{
	"server.port":                  "PORT",
	"store.driver":                 "STORE_DRIVER",
	"database.driver":              "DB_DRIVER",
	"database.host":                "DB_HOST",
	"database.port":                "DB_PORT",
	"database.user":                "DB_USER",
	"database.password":            "DB_PASSWORD",
	"database.dbname":              "DB_NAME",
	"database.sslmode":             "DB_SSLMODE",
	"database.file_path":           "DB_FILE_PATH",
	"database.max_idle_conns":      "DB_MAX_IDLE_CONNS",
	"database.max_open_conns":      "DB_MAX_OPEN_CONNS",
	"database.conn_max_lifetime":   "DB_CONN_MAX_LIFETIME",
	"redis.address":                "REDIS_ADDRESS",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"notify.driver":                "NOTIFY_DRIVER",
	"kafka.brokers":                "KAFKA_BROKERS",
	"kafka.user_events_topic":      "KAFKA_USER_EVENTS_TOPIC",
	"kafka.group_id":               "KAFKA_GROUP_ID",
	"kafka.consumer_enabled":       "KAFKA_CONSUMER_ENABLED",
	"repair.enabled":               "REPAIR_ENABLED",
	"repair.interval":              "REPAIR_INTERVAL",
	"auth.jwt_secret":              "JWT_SECRET",
	"auth.issuer":                  "JWT_ISSUER",
	"storage.driver":               "STORAGE_DRIVER",
	"storage.s3.endpoint":          "S3_ENDPOINT",
	"storage.s3.bucket":            "S3_BUCKET",
	"storage.s3.access_key_id":     "S3_ACCESS_KEY_ID",
	"storage.s3.secret_access_key": "S3_SECRET_ACCESS_KEY",
	"storage.s3.public_url":        "S3_PUBLIC_URL",
	"log.level":                    "LOG_LEVEL",
}

// Load reads ./config/config.yaml, environment overrides and defaults.
func Load() (*Config, error) {
	return LoadFrom("./config", "config")
}

// LoadFrom reads <name>.yaml from dir with the same defaults as Load.
func LoadFrom(dir, name string) (*Config, error) {
	v, err := pkgconfig.Load(dir, name, defaults)
	if err != nil {
		return nil, err
	}
	if err := pkgconfig.BindEnv(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PubSub builds the event bus config for the notifier.
func (c *Config) PubSub() pubsub.Config {
	return pubsub.Config{
		Driver: c.Notify.Driver,
		Redis: pubsub.RedisConfig{
			Address:  c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			PoolSize: 10,
		},
		Kafka: pubsub.KafkaConfig{
			Brokers:           c.Kafka.Brokers,
			Partitions:        c.Kafka.Partitions,
			ReplicationFactor: c.Kafka.ReplicationFactor,
		},
	}
}

// StorageBackend builds the avatar storage config.
func (c *Config) StorageBackend() storage.Config {
	return storage.Config{
		Driver: c.Storage.Driver,
		Local:  c.Storage.Local,
		S3:     c.Storage.S3,
	}
}
