package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	R2        R2Config
	GCS       GCSConfig
	Documents DocumentsConfig
	Queue     QueueConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// OIDCConfig points at the identity provider that issues inspector tokens.
// Without an issuer only HMAC tokens signed with JWT.Secret are accepted.
type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type RateLimitConfig struct {
	CapturePerHour int
}

// Storage providers
const (
	StorageProviderR2   = "r2"
	StorageProviderGCS  = "gcs"
	StorageProviderMock = "mock"
)

type StorageConfig struct {
	Provider string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// Document store backends
const (
	DocumentsBackendRedis  = "redis"
	DocumentsBackendMemory = "memory"
)

type DocumentsConfig struct {
	Backend string
}

type QueueConfig struct {
	DBPath        string
	MediaRoot     string
	AwaitTimeout  time.Duration
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = viper.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = viper.BindEnv("ratelimit.capture_per_hour", "RATELIMIT_CAPTURE_PER_HOUR")
	_ = viper.BindEnv("storage.provider", "STORAGE_PROVIDER")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gcs.bucket", "GCS_BUCKET")
	_ = viper.BindEnv("gcs.credentials_file", "GCS_CREDENTIALS_FILE")
	_ = viper.BindEnv("documents.backend", "DOCUMENTS_BACKEND")
	_ = viper.BindEnv("queue.db_path", "QUEUE_DB_PATH")
	_ = viper.BindEnv("queue.media_root", "QUEUE_MEDIA_ROOT")
	_ = viper.BindEnv("queue.await_timeout", "QUEUE_AWAIT_TIMEOUT")
	_ = viper.BindEnv("queue.sweep_interval", "QUEUE_SWEEP_INTERVAL")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.capture_per_hour", 600)

	// Storage defaults
	viper.SetDefault("storage.provider", "")

	// Document store defaults
	viper.SetDefault("documents.backend", DocumentsBackendRedis)

	// Queue defaults
	viper.SetDefault("queue.db_path", "./uploads.db")
	viper.SetDefault("queue.media_root", "./media")
	viper.SetDefault("queue.await_timeout", 120*time.Second)
	viper.SetDefault("queue.sweep_interval", time.Minute)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   strings.TrimSuffix(viper.GetString("oidc.issuer"), "/"),
			ClientID: viper.GetString("oidc.client_id"),
		},
		RateLimit: RateLimitConfig{
			CapturePerHour: viper.GetInt("ratelimit.capture_per_hour"),
		},
		Storage: StorageConfig{
			Provider: strings.ToLower(viper.GetString("storage.provider")),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		GCS: GCSConfig{
			Bucket:          viper.GetString("gcs.bucket"),
			CredentialsFile: viper.GetString("gcs.credentials_file"),
		},
		Documents: DocumentsConfig{
			Backend: strings.ToLower(viper.GetString("documents.backend")),
		},
		Queue: QueueConfig{
			DBPath:        viper.GetString("queue.db_path"),
			MediaRoot:     viper.GetString("queue.media_root"),
			AwaitTimeout:  viper.GetDuration("queue.await_timeout"),
			SweepInterval: viper.GetDuration("queue.sweep_interval"),
		},
	}

	if cfg.Storage.Provider == "" {
		cfg.Storage.Provider = detectStorageProvider(cfg)
	}

	return cfg, nil
}

// detectStorageProvider picks a provider from whichever credentials are set
func detectStorageProvider(cfg *Config) string {
	switch {
	case cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "":
		return StorageProviderR2
	case cfg.GCS.Bucket != "":
		return StorageProviderGCS
	default:
		return StorageProviderMock
	}
}
