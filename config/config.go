package config

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "TABLETAP"

type Config struct {
	Env           string
	Addr          string
	PublicBaseURL string
	Store         string // postgres or memory
	Artifacts     ArtifactConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	JWT           JWTConfig
	Admin         AdminConfig
	Log           LogConfig
}

type ArtifactConfig struct {
	Backend   string // file, redis or s3
	MediaRoot string
	S3        S3Config
}

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether order events should be published at all.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
	// Generated is set when Secret was made up for this process; tokens do
	// not survive a restart.
	Generated bool
}

type AdminConfig struct {
	Username string
	Email    string
	Password string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("addr", ":8080")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("store", "postgres")

	v.SetDefault("artifacts.backend", "file")
	v.SetDefault("artifacts.media_root", "media")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.bucket", "tabletap")
	v.SetDefault("artifacts.s3.access_key", "")
	v.SetDefault("artifacts.s3.secret_key", "")
	v.SetDefault("artifacts.s3.use_path_style", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "tabletap")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "orders")
	v.SetDefault("kafka.group_id", "order-board")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", "24h")

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads an optional .env file and then TABLETAP_* environment variables
// on top of built-in defaults. Nested keys use underscores, for example
// TABLETAP_DATABASE_HOST.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Env:           v.GetString("env"),
		Addr:          v.GetString("addr"),
		PublicBaseURL: v.GetString("public_base_url"),
		Store:         strings.ToLower(v.GetString("store")),
		Artifacts: ArtifactConfig{
			Backend:   strings.ToLower(v.GetString("artifacts.backend")),
			MediaRoot: v.GetString("artifacts.media_root"),
			S3: S3Config{
				Endpoint:     v.GetString("artifacts.s3.endpoint"),
				Region:       v.GetString("artifacts.s3.region"),
				Bucket:       v.GetString("artifacts.s3.bucket"),
				AccessKey:    v.GetString("artifacts.s3.access_key"),
				SecretKey:    v.GetString("artifacts.s3.secret_key"),
				UsePathStyle: v.GetBool("artifacts.s3.use_path_style"),
			},
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Name:     v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
			GroupID: v.GetString("kafka.group_id"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			TTL:    v.GetDuration("jwt.ttl"),
		},
		Admin: AdminConfig{
			Username: v.GetString("admin.username"),
			Email:    v.GetString("admin.email"),
			Password: v.GetString("admin.password"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Artifacts.Backend {
	case "file", "s3":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis artifact backend needs TABLETAP_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend)
	}
	if c.JWT.Secret == "" {
		if c.Env == "production" {
			return errors.New("TABLETAP_JWT_SECRET is required in production")
		}
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		c.JWT.Secret = secret
		c.JWT.Generated = true
	}
	if c.PublicBaseURL == "" {
		return errors.New("TABLETAP_PUBLIC_BASE_URL must not be empty")
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func MustInitPostgres(cfg DatabaseConfig, log *zap.Logger) *sql.DB {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.String("host", cfg.Host), zap.Error(err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return db
}

func MustInitRedis(cfg RedisConfig, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.String("addr", cfg.Addr), zap.Error(err))
	}

	return client
}

func NewKafkaReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}
