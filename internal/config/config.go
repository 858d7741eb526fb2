package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting for both the bot and the fetcher
// processes. Values come from the environment, optionally seeded from a
// .env file.
type Config struct {
	Env string

	// Telegram
	TelegramToken string
	AdminChatIDs  []int64

	// Postgres
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RabbitMQ
	RabbitHost     string
	RabbitUser     string
	RabbitPassword string
	RabbitPort     int

	// RabbitMQ TLS (enabled when all three files are set)
	RabbitSSLPort     int
	RabbitSSLCACert   string
	RabbitSSLCert     string
	RabbitSSLKey      string
	RabbitConnRetries int
	RabbitRetryDelay  time.Duration

	// Redis (dialog rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Scheduler
	RefreshPeriod         time.Duration
	SchedulerPeriod       time.Duration
	NotFoundRefreshPeriod time.Duration
	NotFoundMaxAge        time.Duration

	// Publish dedup window
	RequeueThreshold time.Duration

	// Fetcher
	PortalURL       string
	FetcherID       string
	JitterSeconds   int
	MaxRetries      int
	MaxMessages     int
	CoolOffDuration time.Duration
	PageLoadLimit   time.Duration
	Prefetch        int

	// Dialog caps
	SubscriptionLimit int
	ReminderLimit     int
	DailyCommandLimit int

	// Ops HTTP server (health + prometheus)
	OpsAddr string

	// Civil timezone for reminders
	Timezone string
}

// Load reads the configuration from the environment. A missing .env file
// is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("APP_ENV", "dev"),

		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		AdminChatIDs:  parseChatIDs(os.Getenv("ADMIN_CHAT_IDS")),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "AppTrackerDB"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RabbitHost:        getEnv("RABBIT_HOST", "localhost"),
		RabbitUser:        getEnv("RABBIT_USER", "bunny_admin"),
		RabbitPassword:    getEnv("RABBIT_PASSWORD", "password"),
		RabbitPort:        getInt("RABBIT_PORT", 5672),
		RabbitSSLPort:     getInt("RABBIT_SSL_PORT", 5671),
		RabbitSSLCACert:   getEnv("RABBIT_SSL_CACERTFILE", ""),
		RabbitSSLCert:     getEnv("RABBIT_SSL_CERTFILE", ""),
		RabbitSSLKey:      getEnv("RABBIT_SSL_KEYFILE", ""),
		RabbitConnRetries: getInt("RABBIT_CONN_RETRIES", 25),
		RabbitRetryDelay:  getDuration("RABBIT_RETRY_DELAY", 5*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		RefreshPeriod:         getSeconds("REFRESH_PERIOD", 3600),
		SchedulerPeriod:       getSeconds("SCHEDULER_PERIOD", 300),
		NotFoundRefreshPeriod: getSeconds("NOT_FOUND_REFRESH_PERIOD", 86400),
		NotFoundMaxAge:        time.Duration(getInt("NOT_FOUND_MAX_DAYS", 30)) * 24 * time.Hour,

		RequeueThreshold: getSeconds("REQUEUE_THRESHOLD_SECONDS", 3600),

		PortalURL:       getEnv("URL", "https://frs.gov.cz/informace-o-stavu-rizeni/"),
		FetcherID:       getEnv("FETCHER_ID", ""),
		JitterSeconds:   getInt("JITTER_SECONDS", 900),
		MaxRetries:      getInt("MAX_RETRIES", 3),
		MaxMessages:     getInt("MAX_MESSAGES", 10),
		CoolOffDuration: getSeconds("COOL_OFF_DURATION", 60),
		PageLoadLimit:   getSeconds("PAGE_LOAD_LIMIT_SECONDS", 20),
		Prefetch:        getInt("PREFETCH_COUNT", 1),

		SubscriptionLimit: getInt("SUBSCRIPTION_LIMIT", 5),
		ReminderLimit:     getInt("REMINDER_LIMIT", 2),
		DailyCommandLimit: getInt("DAILY_COMMAND_LIMIT", 5),

		OpsAddr: getEnv("OPS_ADDR", ":8081"),

		Timezone: getEnv("TIMEZONE", "Europe/Prague"),
	}

	if strings.Contains(cfg.RedisAddr, " ") {
		return nil, fmt.Errorf("bad REDIS_ADDR (contains spaces): %q", cfg.RedisAddr)
	}
	if cfg.SchedulerPeriod <= 0 {
		return nil, fmt.Errorf("SCHEDULER_PERIOD must be positive")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

// RabbitURL builds the broker URL, switching to amqps when the TLS file
// triple is configured.
func (c *Config) RabbitURL() string {
	if c.RabbitTLSEnabled() {
		return fmt.Sprintf("amqps://%s:%s@%s:%d/", c.RabbitUser, c.RabbitPassword, c.RabbitHost, c.RabbitSSLPort)
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", c.RabbitUser, c.RabbitPassword, c.RabbitHost, c.RabbitPort)
}

func (c *Config) RabbitTLSEnabled() bool {
	return c.RabbitSSLCACert != "" && c.RabbitSSLCert != "" && c.RabbitSSLKey != ""
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func parseChatIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getSeconds(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Second
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
