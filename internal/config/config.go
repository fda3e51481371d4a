package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when Load is called with an empty path. It may be absent.
const DefaultPath = "config.yaml"

const (
	DefaultAPIURL        = "http://localhost:3030"
	DefaultAndroidAPIURL = "http://10.0.2.2:3030"
	androidHostAlias     = "10.0.2.2"
)

const (
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
	TokenStoreMemory = "memory"
)

// FileConfig represents configuration loaded from YAML, .env and the environment.
type FileConfig struct {
	APIURL                    string `yaml:"apiURL"`
	Platform                  string `yaml:"platform"`
	LogLevel                  string `yaml:"logLevel"`
	RequestTimeout            string `yaml:"requestTimeout"`
	ChatPollInterval          string `yaml:"chatPollInterval"`
	ConversationsPollInterval string `yaml:"conversationsPollInterval"`

	TokenStore    string `yaml:"tokenStore"`
	TokenFile     string `yaml:"tokenFile"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`

	StorageEndpoint      string `yaml:"storageEndpoint"`
	StorageAccessKey     string `yaml:"storageAccessKey"`
	StorageSecretKey     string `yaml:"storageSecretKey"`
	StorageBucket        string `yaml:"storageBucket"`
	StorageUseSSL        bool   `yaml:"storageUseSSL"`
	StoragePresignExpiry string `yaml:"storagePresignExpiry"`

	DevPort                    string   `yaml:"devPort"`
	DevJWTSecret               string   `yaml:"devJwtSecret"`
	DevTokenTTL                string   `yaml:"devTokenTTL"`
	DatabaseURL                string   `yaml:"databaseURL"`
	DevCORSOrigins             []string `yaml:"devCorsOrigins"`
	DevAdminEmails             []string `yaml:"devAdminEmails"`
	DevTrustedProxies          []string `yaml:"devTrustedProxies"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
}

// Load reads config from path, then .env, then environment overrides.
// A missing file is only an error when path was given explicitly.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("EXPO_PUBLIC_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("OPUS_API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("OPUS_PLATFORM"); v != "" {
		cfg.Platform = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeout = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_CHAT_POLL_INTERVAL"); v != "" {
		cfg.ChatPollInterval = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_CONVERSATIONS_POLL_INTERVAL"); v != "" {
		cfg.ConversationsPollInterval = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_TOKEN_STORE"); v != "" {
		cfg.TokenStore = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("OPUS_TOKEN_FILE"); v != "" {
		cfg.TokenFile = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("OPUS_STORAGE_ENDPOINT"); v != "" {
		cfg.StorageEndpoint = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_STORAGE_ACCESS_KEY"); v != "" {
		cfg.StorageAccessKey = v
	}
	if v := os.Getenv("OPUS_STORAGE_SECRET_KEY"); v != "" {
		cfg.StorageSecretKey = v
	}
	if v := os.Getenv("OPUS_STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_STORAGE_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.StorageUseSSL = b
		}
	}
	if v := os.Getenv("OPUS_DEV_PORT"); v != "" {
		cfg.DevPort = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPUS_DEV_JWT_SECRET"); v != "" {
		cfg.DevJWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OPUS_DEV_CORS_ORIGINS"); v != "" {
		cfg.DevCORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("OPUS_DEV_ADMIN_EMAILS"); v != "" {
		cfg.DevAdminEmails = splitCSV(v)
	}
	if v := os.Getenv("OPUS_DEV_TRUSTED_PROXIES"); v != "" {
		cfg.DevTrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("OPUS_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("OPUS_REGISTER_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RegisterRateLimitPerMinute = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = "15s"
	}
	if cfg.ChatPollInterval == "" {
		cfg.ChatPollInterval = "5s"
	}
	if cfg.ConversationsPollInterval == "" {
		cfg.ConversationsPollInterval = "30s"
	}
	if cfg.TokenStore == "" {
		cfg.TokenStore = TokenStoreFile
	}
	if cfg.TokenStore == TokenStoreFile && cfg.TokenFile == "" {
		cfg.TokenFile = defaultTokenFile()
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "opus:"
	}
	if cfg.StoragePresignExpiry == "" {
		cfg.StoragePresignExpiry = "168h"
	}
	if cfg.DevPort == "" {
		cfg.DevPort = "3030"
	}
	if cfg.DevTokenTTL == "" {
		cfg.DevTokenTTL = "720h"
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.TokenStore {
	case TokenStoreFile, TokenStoreMemory:
	case TokenStoreRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required when tokenStore is redis (set in config.yaml or REDIS_ADDR)")
		}
	default:
		return fmt.Errorf("config: unknown tokenStore %q (want file, redis or memory)", cfg.TokenStore)
	}
	for name, value := range map[string]string{
		"requestTimeout":            cfg.RequestTimeout,
		"chatPollInterval":          cfg.ChatPollInterval,
		"conversationsPollInterval": cfg.ConversationsPollInterval,
		"storagePresignExpiry":      cfg.StoragePresignExpiry,
		"devTokenTTL":               cfg.DevTokenTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("config: invalid %s duration: %w", name, err)
		}
	}
	if d, _ := time.ParseDuration(cfg.RequestTimeout); d <= 0 {
		return errors.New("config: requestTimeout must be > 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.StorageEndpoint != "" && cfg.StorageBucket == "" {
		return errors.New("config: storageBucket is required when storageEndpoint is set")
	}
	return nil
}

// ResolveAPIURL normalizes the configured backend URL. Android emulators reach the host
// machine through 10.0.2.2, so loopback hosts are rewritten on that platform.
func ResolveAPIURL(raw, platform string) string {
	android := strings.EqualFold(strings.TrimSpace(platform), "android")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if android {
			return DefaultAndroidAPIURL
		}
		return DefaultAPIURL
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	if android {
		if u, err := url.Parse(raw); err == nil {
			host := u.Hostname()
			if host == "localhost" || host == "127.0.0.1" {
				if port := u.Port(); port != "" {
					u.Host = androidHostAlias + ":" + port
				} else {
					u.Host = androidHostAlias
				}
				raw = u.String()
			}
		}
	}
	return strings.TrimRight(raw, "/")
}

// ResolvedAPIURL applies ResolveAPIURL to the loaded settings.
func (c FileConfig) ResolvedAPIURL() string {
	return ResolveAPIURL(c.APIURL, c.Platform)
}

func (c FileConfig) RequestTimeoutDuration() time.Duration {
	return durationOr(c.RequestTimeout, 15*time.Second)
}

func (c FileConfig) ChatPollDuration() time.Duration {
	return durationOr(c.ChatPollInterval, 5*time.Second)
}

func (c FileConfig) ConversationsPollDuration() time.Duration {
	return durationOr(c.ConversationsPollInterval, 30*time.Second)
}

func (c FileConfig) PresignExpiryDuration() time.Duration {
	return durationOr(c.StoragePresignExpiry, 7*24*time.Hour)
}

func (c FileConfig) DevTokenTTLDuration() time.Duration {
	return durationOr(c.DevTokenTTL, 30*24*time.Hour)
}

func durationOr(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return d
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".opus", "tokens.json")
	}
	return filepath.Join(dir, "opus", "tokens.json")
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
