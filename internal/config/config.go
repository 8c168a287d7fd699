package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"payments_core/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort       string
	AppEnv        string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	PublicBaseURL string
	SettingsFile  string

	LockTTL        time.Duration
	GatewayTimeout time.Duration
	PollInterval   time.Duration

	NATSURL  string
	NSQDAddr string

	BotToken         string
	AdminBotEnabled  bool
	AdminTelegramIDs []int64
	AdminUserIDs     []int64

	APIRateLimit     int
	APIRateWindow    time.Duration
	WebhookRateLimit int
	AllowedOrigin    string

	LogLevel string
	LogJSON  bool
}

// Production hides internal error details from API responses.
func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// Load reads .env (if present) and the process environment. Missing required keys are fatal.
func Load() *Config {
	_ = godotenv.Load()

	cfg, err := Parse(os.Getenv)
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}
	return cfg
}

// Parse builds a Config from a lookup function.
func Parse(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		AppPort:       withDefault(getenv("APP_PORT"), "8080"),
		AppEnv:        withDefault(getenv("APP_ENV"), "development"),
		DatabaseURL:   getenv("DATABASE_URL"),
		RedisAddr:     getenv("REDIS_ADDR"),
		RedisPassword: getenv("REDIS_PASSWORD"),
		RedisDB:       intValue(getenv("REDIS_DB"), 0),
		JWTSecret:     getenv("JWT_SECRET"),
		PublicBaseURL: strings.TrimRight(getenv("PUBLIC_BASE_URL"), "/"),
		SettingsFile:  getenv("SETTINGS_FILE"),

		LockTTL:        seconds(getenv("LOCK_TTL_SECONDS"), 30),
		GatewayTimeout: seconds(getenv("GATEWAY_TIMEOUT_SECONDS"), 30),
		PollInterval:   seconds(getenv("POLL_INTERVAL_SECONDS"), 60),

		NATSURL:  getenv("NATS_URL"),
		NSQDAddr: getenv("NSQD_ADDR"),

		BotToken:         getenv("BOT_TOKEN"),
		AdminBotEnabled:  getenv("ADMIN_BOT_ENABLED") == "true",
		AdminTelegramIDs: idList(getenv("ADMIN_TELEGRAM_IDS")),
		AdminUserIDs:     idList(getenv("ADMIN_USER_IDS")),

		APIRateLimit:     intValue(getenv("API_RATE_LIMIT"), 60),
		APIRateWindow:    seconds(getenv("API_RATE_WINDOW_SECONDS"), 60),
		WebhookRateLimit: intValue(getenv("WEBHOOK_RATE_LIMIT"), 600),
		AllowedOrigin:    getenv("ALLOWED_ORIGIN"),

		LogLevel: withDefault(getenv("LOG_LEVEL"), "info"),
		LogJSON:  getenv("LOG_JSON") == "true",
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, errors.New(strings.Join(missing, ", ") + " not set")
	}

	if cfg.AdminBotEnabled && cfg.BotToken == "" {
		return nil, errors.New("ADMIN_BOT_ENABLED requires BOT_TOKEN")
	}

	return cfg, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intValue(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func seconds(v string, def int) time.Duration {
	n := intValue(v, def)
	if n == 0 {
		n = def
	}
	return time.Duration(n) * time.Second
}

// comma separated list, bad entries skipped
func idList(v string) []int64 {
	var ids []int64
	if v == "" {
		return ids
	}
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
