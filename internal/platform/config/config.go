package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	textutil "warden/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr            string `validate:"required"`
	Environment     string `validate:"oneof=development test production"`
	LogLevel        string `validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration

	Wallet   WalletConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// WalletConfig holds engine settings.
type WalletConfig struct {
	// ModuleName names the module guard that controls wallet ledger accounts.
	ModuleName      string        `validate:"required,max=64"`
	SignatureMaxAge time.Duration `validate:"gt=0"`
	IdempotencyTTL  time.Duration `validate:"gt=0"`
	TxTimeout       time.Duration `validate:"gt=0"`
	// SafeTransferExtra is the surplus a safe transfer sends and reclaims.
	SafeTransferExtra string `validate:"numeric"`
}

// DatabaseConfig selects the Postgres connection. An empty URL keeps every
// store in memory.
type DatabaseConfig struct {
	URL             string
	Driver          string `validate:"oneof=pgx postgres"`
	MaxOpenConns    int    `validate:"gte=1"`
	MaxIdleConns    int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
	Migrate         bool
}

// RedisConfig holds the Redis connection used for idempotency keys. An empty
// URL keeps idempotency keys in memory.
type RedisConfig struct {
	URL          string
	PoolSize     int `validate:"gte=1"`
	MinIdleConns int `validate:"gte=0"`
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit pipeline settings. Without brokers audit
// events go straight to the audit store.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string `validate:"required_with=Brokers"`
	Partitions    int32  `validate:"gte=1"`
	ConsumerGroup string `validate:"required_with=Brokers"`
	// AuditBuffer sizes the in-process publisher buffer; 0 publishes inline.
	AuditBuffer int `validate:"gte=0"`
}

// Enabled reports whether a Postgres URL was configured.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// Enabled reports whether Kafka brokers were configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

var validate = validator.New()

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present.
func FromEnv() (Server, error) {
	_ = godotenv.Load()

	cfg := Server{
		Addr:            getEnv("WARDEN_ADDR", ":8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Wallet: WalletConfig{
			ModuleName:        getEnv("WARDEN_MODULE_NAME", "warden"),
			SignatureMaxAge:   getDuration("SIGNATURE_MAX_AGE", 5*time.Minute),
			IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			TxTimeout:         getDuration("WALLET_TX_TIMEOUT", 5*time.Second),
			SafeTransferExtra: getEnv("SAFE_TRANSFER_EXTRA", "0.000001"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Driver:          getEnv("DATABASE_DRIVER", "pgx"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			Migrate:         getBool("DATABASE_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       textutil.SplitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic:    getEnv("AUDIT_TOPIC", "warden.audit"),
			Partitions:    int32(getInt("AUDIT_TOPIC_PARTITIONS", 3)),
			ConsumerGroup: getEnv("AUDIT_CONSUMER_GROUP", "warden-audit"),
			AuditBuffer:   getInt("AUDIT_BUFFER", 1024),
		},
	}

	if err := validate.Struct(cfg); err != nil {
		return Server{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
