package flow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

type AppConfig struct {
	Mode         string
	ApiPort      string
	LogFormat    string
	WorkflowPath string
	Comfy        struct {
		URL          string
		WebsocketURL string
		ReconnectMin time.Duration
		ReconnectMax time.Duration
	}
	RedisConfig struct {
		Host     string
		Port     string
		Password string
		DB       int
		AssetTTL time.Duration
	}
	NatsConfig struct {
		URL           string
		SubjectPrefix string
	}
	RealtimePort string
}

// LoadConfig reads envfile into the process environment, when present, and builds the config
// from it. A missing file is not an error.
func LoadConfig(envfile string) (AppConfig, error) {
	var cfg AppConfig

	if envfile != "" {
		if err := godotenv.Load(envfile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("error loading %s file: %w", envfile, err)
		}
	}

	cfg.Mode = GetEnv("RUN_MODE", "development")
	cfg.ApiPort = GetEnv("API_PORT", ":8190")
	cfg.LogFormat = GetEnv("LOG_FORMAT", "console")
	cfg.WorkflowPath = GetEnv("WORKFLOW_PATH", "")
	cfg.RealtimePort = GetEnv("REALTIME_PORT", ":8191")

	cfg.Comfy.URL = strings.TrimRight(GetEnv("COMFY_URL", "http://127.0.0.1:8188"), "/")
	cfg.Comfy.WebsocketURL = GetEnv("COMFY_WS_URL", "")
	cfg.Comfy.ReconnectMin = time.Duration(getIntEnvOrDefault("RECONNECT_MIN_MS", 500)) * time.Millisecond
	cfg.Comfy.ReconnectMax = time.Duration(getIntEnvOrDefault("RECONNECT_MAX_MS", 30000)) * time.Millisecond

	cfg.RedisConfig.Host = GetEnv("REDIS_HOST", "")
	cfg.RedisConfig.Port = GetEnv("REDIS_PORT", "6379")
	cfg.RedisConfig.Password = GetEnv("REDIS_PASSWORD", "")
	cfg.RedisConfig.DB = getIntEnvOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.AssetTTL = time.Duration(getIntEnvOrDefault("ASSET_CACHE_TTL_SECONDS", 300)) * time.Second

	cfg.NatsConfig.URL = GetEnv("NATS_URL", "")
	cfg.NatsConfig.SubjectPrefix = GetEnv("NATS_SUBJECT_PREFIX", "flow")

	return cfg, cfg.validate()
}

func (c AppConfig) validate() error {
	if !strings.HasPrefix(c.ApiPort, ":") && !strings.Contains(c.ApiPort, ":") {
		return fmt.Errorf("API_PORT must look like :8190 or host:8190, got %q", c.ApiPort)
	}
	u, err := url.Parse(c.Comfy.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("COMFY_URL must be an absolute URL, got %q", c.Comfy.URL)
	}
	if c.Comfy.ReconnectMin <= 0 || c.Comfy.ReconnectMax < c.Comfy.ReconnectMin {
		return errors.New("RECONNECT_MIN_MS must be positive and not above RECONNECT_MAX_MS")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	return nil
}

func (c AppConfig) IsProduction() bool {
	return c.Mode == "production"
}

func GetEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

// ConnectRedis returns nil when no Redis host is configured.
func ConnectRedis(ctx context.Context, cfg AppConfig) (*redis.Client, error) {
	if cfg.RedisConfig.Host == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisConfig.Host, cfg.RedisConfig.Port),
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
