package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	Render    RenderConfig
	Poll      PollConfig
	R2        R2Config
	RateLimit RateLimitConfig
	Backend   BackendConfig
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

// RenderConfig describes how the studio reaches the render backend.
// BaseURL is injected as is; nothing is derived from the runtime host.
type RenderConfig struct {
	BaseURL       string
	HealthTimeout time.Duration
	UploadTimeout time.Duration
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
}

type PollConfig struct {
	Interval time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string // required for R2, whose API endpoint is not publicly readable
	Endpoint        string // S3-compatible endpoint override, e.g. MinIO
}

// Configured reports whether enough credentials are present to build a client.
func (c R2Config) Configured() bool {
	return (c.AccountID != "" || c.Endpoint != "") && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type RateLimitConfig struct {
	SessionPerHour int
	UploadPerHour  int
	SubmitPerHour  int
}

// BackendConfig configures the reference render backend (cmd/renderd).
type BackendConfig struct {
	Port          string
	MaxUploadSize int64 // bytes
	StepDelay     time.Duration
	Concurrency   int
}

func Load() (*Config, error) {
	// Local .env is optional
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("render.base_url", "RENDER_BASE_URL")
	_ = v.BindEnv("render.health_timeout", "RENDER_HEALTH_TIMEOUT")
	_ = v.BindEnv("render.upload_timeout", "RENDER_UPLOAD_TIMEOUT")
	_ = v.BindEnv("render.submit_timeout", "RENDER_SUBMIT_TIMEOUT")
	_ = v.BindEnv("render.poll_timeout", "RENDER_POLL_TIMEOUT")
	_ = v.BindEnv("poll.interval", "POLL_INTERVAL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("r2.endpoint", "R2_ENDPOINT")
	_ = v.BindEnv("ratelimit.session_per_hour", "RATELIMIT_SESSION_PER_HOUR")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("ratelimit.submit_per_hour", "RATELIMIT_SUBMIT_PER_HOUR")
	_ = v.BindEnv("backend.port", "BACKEND_PORT")
	_ = v.BindEnv("backend.max_upload_mb", "BACKEND_MAX_UPLOAD_MB")
	_ = v.BindEnv("backend.step_delay", "BACKEND_STEP_DELAY")
	_ = v.BindEnv("backend.concurrency", "BACKEND_CONCURRENCY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Render backend defaults
	v.SetDefault("render.base_url", "http://localhost:3001")
	v.SetDefault("render.health_timeout", "5s")
	v.SetDefault("render.upload_timeout", "30s")
	v.SetDefault("render.submit_timeout", "15s")
	v.SetDefault("render.poll_timeout", "10s")
	v.SetDefault("poll.interval", "1s")

	v.SetDefault("ratelimit.session_per_hour", 30)
	v.SetDefault("ratelimit.upload_per_hour", 50)
	v.SetDefault("ratelimit.submit_per_hour", 20)

	// Reference backend defaults
	v.SetDefault("backend.port", "3001")
	v.SetDefault("backend.max_upload_mb", 100)
	v.SetDefault("backend.step_delay", "2s")
	v.SetDefault("backend.concurrency", 4)

	// Try to read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Render: RenderConfig{
			BaseURL:       strings.TrimRight(v.GetString("render.base_url"), "/"),
			HealthTimeout: v.GetDuration("render.health_timeout"),
			UploadTimeout: v.GetDuration("render.upload_timeout"),
			SubmitTimeout: v.GetDuration("render.submit_timeout"),
			PollTimeout:   v.GetDuration("render.poll_timeout"),
		},
		Poll: PollConfig{
			Interval: v.GetDuration("poll.interval"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
			Endpoint:        v.GetString("r2.endpoint"),
		},
		RateLimit: RateLimitConfig{
			SessionPerHour: v.GetInt("ratelimit.session_per_hour"),
			UploadPerHour:  v.GetInt("ratelimit.upload_per_hour"),
			SubmitPerHour:  v.GetInt("ratelimit.submit_per_hour"),
		},
		Backend: BackendConfig{
			Port:          v.GetString("backend.port"),
			MaxUploadSize: v.GetInt64("backend.max_upload_mb") * 1024 * 1024,
			StepDelay:     v.GetDuration("backend.step_delay"),
			Concurrency:   v.GetInt("backend.concurrency"),
		},
	}

	return cfg, nil
}
