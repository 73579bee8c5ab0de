package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ghl"
	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ron"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	DBDSN       string
	HTTPAddr    string
	// StaffAPIToken токен для staff-ручек HTTP API
	StaffAPIToken string

	TelegramToken string
	StaffChatIDs  []int64

	RedisAddr     string
	RedisPassword string
	RedisCacheDB  int
	RedisQueueDB  int

	CalendarFile string

	Workers           int
	PollInterval      time.Duration
	JobLease          time.Duration
	StepTimeout       time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ReconcileInterval time.Duration

	GHL   ghl.Config
	RON   ron.Config
	Gmail notify.GmailConfig
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}

	log.Printf("Config loaded (env=%s)\n", cfg.Environment)
	return cfg, nil
}

// FromEnv собирает конфиг из функции чтения переменных окружения
func FromEnv(getenv func(string) string) (*Config, error) {
	e := &envReader{getenv: getenv}

	cfg := &Config{
		Environment:   e.str("ENV", "development"),
		LogLevel:      e.str("LOG_LEVEL", ""),
		DBDSN:         e.str("DB_DSN", ""),
		HTTPAddr:      e.str("HTTP_ADDR", ":8080"),
		StaffAPIToken: e.str("STAFF_API_TOKEN", ""),

		TelegramToken: e.str("TELEGRAM_TOKEN", ""),
		StaffChatIDs:  e.ids("STAFF_CHAT_IDS"),

		RedisAddr:     e.str("REDIS_ADDR", ""),
		RedisPassword: e.str("REDIS_PASSWORD", ""),
		RedisCacheDB:  e.intVal("REDIS_CACHE_DB", 0),
		RedisQueueDB:  e.intVal("REDIS_QUEUE_DB", 1),

		CalendarFile: e.str("CALENDAR_FILE", ""),

		Workers:           e.intVal("FULFILLMENT_WORKERS", 2),
		PollInterval:      e.duration("FULFILLMENT_POLL_INTERVAL", time.Second),
		JobLease:          e.duration("FULFILLMENT_LEASE", 2*time.Minute),
		StepTimeout:       e.duration("FULFILLMENT_STEP_TIMEOUT", 15*time.Second),
		MaxAttempts:       e.intVal("FULFILLMENT_MAX_ATTEMPTS", 3),
		BackoffBase:       e.duration("FULFILLMENT_BACKOFF_BASE", 2*time.Second),
		BackoffMax:        e.duration("FULFILLMENT_BACKOFF_MAX", 30*time.Second),
		ReconcileInterval: e.duration("FULFILLMENT_RECONCILE_INTERVAL", 5*time.Minute),

		GHL: ghl.Config{
			BaseURL:           e.str("GHL_BASE_URL", ""),
			APIKey:            e.str("GHL_API_KEY", ""),
			LocationID:        e.str("GHL_LOCATION_ID", ""),
			CalendarID:        e.str("GHL_CALENDAR_ID", ""),
			RequestsPerSecond: e.floatVal("GHL_RPS", 5),
			Timeout:           e.duration("GHL_TIMEOUT", 10*time.Second),
		},
		RON: ron.Config{
			BaseURL:           e.str("RON_BASE_URL", ""),
			APIKey:            e.str("RON_API_KEY", ""),
			NotaryEmail:       e.str("RON_NOTARY_EMAIL", ""),
			CallbackURL:       e.str("RON_CALLBACK_URL", ""),
			RequestsPerSecond: e.floatVal("RON_RPS", 2),
			Timeout:           e.duration("RON_TIMEOUT", 15*time.Second),
		},
		Gmail: notify.GmailConfig{
			ClientID:     e.str("GMAIL_CLIENT_ID", ""),
			ClientSecret: e.str("GMAIL_CLIENT_SECRET", ""),
			RefreshToken: e.str("GMAIL_REFRESH_TOKEN", ""),
			From:         e.str("GMAIL_FROM", ""),
		},
	}

	if e.err != nil {
		return nil, e.err
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("FULFILLMENT_WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("FULFILLMENT_MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}

	return cfg, nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

// IsProduction боевое окружение
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// envReader читает переменные и запоминает первую ошибку разбора
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) intVal(key string, def int) int {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) floatVal(key string, def float64) float64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

// ids список Telegram ID через запятую
func (e *envReader) ids(key string) []int64 {
	v := strings.TrimSpace(e.getenv(key))
	if v == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			e.fail(key, err)
			return nil
		}
		out = append(out, id)
	}
	return out
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
