package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Store drivers understood by the repository layer.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Update delivery modes for the Telegram transport.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Config holds every process-wide setting. It is read once at start.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string `validate:"oneof=text json"`
	MetricsNamespace string

	BotToken       string `validate:"required"`
	UpdateMode     string `validate:"oneof=polling webhook"`
	WebhookSecret  string
	PublicBaseURL  string `validate:"required_if=UpdateMode webhook"`
	PublicBasePath string
	HTTPListenAddr string `validate:"required"`

	DatabaseURL    string `validate:"required_unless=StoreDriver memory"`
	StoreDriver    string `validate:"oneof=mongo postgres sqlite memory"`
	DatabaseName   string `validate:"required_if=StoreDriver mongo"`
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	RedisTLS      bool
	RedisPrefix   string

	ChannelUsername string  `validate:"required"`
	AdminIDs        []int64 `validate:"dive,gt=0"`
	SupportContact  string

	InitialCredits int64 `validate:"gte=0"`
	ReferralCredit int64 `validate:"gte=0"`

	LookupBaseURL  string        `validate:"required,url"`
	LookupTimeout  time.Duration `validate:"gt=0"`
	LookupCacheTTL time.Duration `validate:"gte=0"`

	FlowIdleTimeout      time.Duration `validate:"gte=0"`
	BroadcastRate        float64       `validate:"gt=0"`
	BroadcastConcurrency int           `validate:"gt=0"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "infobot"),

		BotToken:       strings.TrimSpace(os.Getenv("BOT_TOKEN")),
		UpdateMode:     strings.ToLower(getEnv("UPDATE_MODE", ModePolling)),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		PublicBaseURL:  strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")),
		PublicBasePath: os.Getenv("PUBLIC_BASE_PATH"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),

		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreDriver:    strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER"))),
		DatabaseName:   getEnv("DATABASE_NAME", "ToxicBotDB"),
		DatabaseSchema: os.Getenv("DATABASE_SCHEMA"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:   getEnv("REDIS_PREFIX", "infobot"),

		ChannelUsername: getEnv("CHANNEL_USERNAME", "@ToxicBack2025"),
		SupportContact:  getEnv("SUPPORT_CONTACT", "@CDMAXX"),

		LookupBaseURL: getEnv("LOOKUP_BASE_URL", "https://numinfoapi.vercel.app/api/num"),
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = InferDriver(cfg.DatabaseURL)
	}

	cfg.RedisDB = parseInt(&errs, "REDIS_DB", 0)
	cfg.RedisTLS = parseBool(&errs, "REDIS_TLS", false)
	cfg.InitialCredits = int64(parseInt(&errs, "INITIAL_CREDITS", 2))
	cfg.ReferralCredit = int64(parseInt(&errs, "REFERRAL_CREDIT", 1))
	cfg.LookupTimeout = parseDuration(&errs, "LOOKUP_TIMEOUT", 15*time.Second)
	cfg.LookupCacheTTL = parseDuration(&errs, "LOOKUP_CACHE_TTL", 10*time.Minute)
	cfg.FlowIdleTimeout = parseDuration(&errs, "FLOW_IDLE_TIMEOUT", 0)
	cfg.BroadcastRate = parseFloat(&errs, "BROADCAST_RATE", 25)
	cfg.BroadcastConcurrency = parseInt(&errs, "BROADCAST_CONCURRENCY", 8)

	ids, err := ParseAdminIDs(os.Getenv("ADMIN_IDS"))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.AdminIDs = ids

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// InferDriver guesses the store driver from a connection string.
func InferDriver(databaseURL string) string {
	lower := strings.ToLower(strings.TrimSpace(databaseURL))
	switch {
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return DriverMongo
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// ParseAdminIDs parses a comma or space separated list of numeric ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ADMIN_IDS: invalid id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(errs *[]error, key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseFloat(errs *[]error, key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseBool(errs *[]error, key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseDuration(errs *[]error, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
