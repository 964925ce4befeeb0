package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/sla"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	NATS         NATSConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	SLA          SLAConfig
	Lifecycle    LifecycleConfig
	Compliance   ComplianceConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	Debug                 bool
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig configures the event broker. An empty URL disables publishing.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token verification parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// NotificationConfig holds the outbound webhook settings.
type NotificationConfig struct {
	WebhookURL            string
	WebhookTimeoutSeconds int
	WebhookRetries        int
}

// SLAConfig carries per-priority windows in hours and the at-risk ratio.
type SLAConfig struct {
	AtRiskRatio float64
	Windows     map[domain.TicketPriority]SLAWindowHours
}

// SLAWindowHours is one row of the SLA table.
type SLAWindowHours struct {
	FirstResponse int
	Resolution    int
}

// LifecycleConfig tunes the ticket state machine.
type LifecycleConfig struct {
	ClosableFrom []domain.TicketStatus
}

// ComplianceConfig tunes dashboard aggregation.
type ComplianceConfig struct {
	CacheTTLSeconds int
	TrendDays       int
	Timezone        string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	ratio, err := strconv.ParseFloat(getEnv("SLA_AT_RISK_RATIO", strconv.FormatFloat(sla.DefaultAtRiskRatio, 'f', -1, 64)), 64)
	if err != nil || ratio <= 0 || ratio > 1 {
		return nil, errors.New("invalid SLA_AT_RISK_RATIO: must be in (0, 1]")
	}

	closable, err := parseStatuses(getEnv("CLOSABLE_FROM_STATUSES", "resolved,open,in_progress,waiting_parts"))
	if err != nil {
		return nil, fmt.Errorf("invalid CLOSABLE_FROM_STATUSES: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "gearlog-ticket-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			Debug:                 getEnvAsBool("APP_DEBUG", false),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "gearlog.tickets"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			WebhookURL:            os.Getenv("NOTIFY_WEBHOOK_URL"),
			WebhookTimeoutSeconds: getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", 5),
			WebhookRetries:        getEnvAsInt("NOTIFY_WEBHOOK_RETRIES", 2),
		},
		SLA: SLAConfig{
			AtRiskRatio: ratio,
			Windows:     loadSLAWindows(),
		},
		Lifecycle: LifecycleConfig{
			ClosableFrom: closable,
		},
		Compliance: ComplianceConfig{
			CacheTTLSeconds: getEnvAsInt("COMPLIANCE_CACHE_TTL_SECONDS", 60),
			TrendDays:       getEnvAsInt("COMPLIANCE_TREND_DAYS", 30),
			Timezone:        getEnv("COMPLIANCE_TIMEZONE", "Local"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// WebhookTimeout returns the webhook request timeout.
func (n NotificationConfig) WebhookTimeout() time.Duration {
	if n.WebhookTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(n.WebhookTimeoutSeconds) * time.Second
}

// CacheTTL returns how long dashboards stay cached. Zero disables caching.
func (c ComplianceConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Location resolves the timezone used for trend day buckets.
func (c ComplianceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Table builds the SLA policy table, starting from the defaults.
func (c SLAConfig) Table() sla.Table {
	table := sla.DefaultTable()
	for priority, hours := range c.Windows {
		window := table[priority]
		if hours.FirstResponse > 0 {
			window.FirstResponse = time.Duration(hours.FirstResponse) * time.Hour
		}
		if hours.Resolution > 0 {
			window.Resolution = time.Duration(hours.Resolution) * time.Hour
		}
		table[priority] = window
	}
	return table
}

func loadSLAWindows() map[domain.TicketPriority]SLAWindowHours {
	windows := make(map[domain.TicketPriority]SLAWindowHours)
	for _, priority := range []domain.TicketPriority{
		domain.TicketPriorityLow,
		domain.TicketPriorityMedium,
		domain.TicketPriorityHigh,
		domain.TicketPriorityCritical,
	} {
		prefix := "SLA_" + strings.ToUpper(string(priority))
		hours := SLAWindowHours{
			FirstResponse: getEnvAsInt(prefix+"_FIRST_RESPONSE_HOURS", 0),
			Resolution:    getEnvAsInt(prefix+"_RESOLUTION_HOURS", 0),
		}
		if hours != (SLAWindowHours{}) {
			windows[priority] = hours
		}
	}
	return windows
}

func parseStatuses(raw string) ([]domain.TicketStatus, error) {
	var statuses []domain.TicketStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		status := domain.TicketStatus(part)
		if !status.Valid() || status == domain.TicketStatusClosed {
			return nil, fmt.Errorf("unsupported status %q", part)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
