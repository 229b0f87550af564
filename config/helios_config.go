package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// Timezone for schedule rendering; storage is always UTC
	Timezone string

	// Auth
	JWTSecret  string
	AdminToken string

	// OAuth - Google (mail + calendar)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleTokenFile    string

	// Mail ingestion
	MailTriageLabels []string
	MailLookbackDays int
	IngestThreadMode string // per_email | per_thread
	SweepIntervalMin int

	// Calendars
	FixedCalendarID    string
	FlexibleCalendarID string

	// Allowlist snapshot cache
	AllowlistCacheTTL time.Duration

	// Task workspace API
	TasksAPIURL        string
	TasksAPIKey        string
	TasksTeamID        string
	TasksAssigneeID    string
	TasksEmailListID   string
	TasksSpaceClients  string
	TasksSpaceSystems  string
	TasksSpaceMktg     string
	TasksSpacePersonal string

	// Scheduler
	ScheduleConfigPath string

	// Request deadlines
	RequestTimeout time.Duration
	SweepTimeout   time.Duration

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		Timezone: getEnv("TIMEZONE", "Europe/London"),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		GoogleTokenFile:    getEnv("GOOGLE_TOKEN_FILE", ""),

		MailTriageLabels: getEnvSlice("MAIL_TRIAGE_LABELS", []string{"1- to respond", "2- FYI", "4 - Notifications"}),
		MailLookbackDays: getEnvInt("MAIL_LOOKBACK_DAYS", 30),
		IngestThreadMode: getEnv("INGEST_THREAD_MODE", "per_email"),
		SweepIntervalMin: getEnvInt("SWEEP_INTERVAL_MIN", 15),

		FixedCalendarID:    getEnv("FIXED_CALENDAR_ID", ""),
		FlexibleCalendarID: getEnv("FLEXIBLE_CALENDAR_ID", ""),

		AllowlistCacheTTL: time.Duration(getEnvInt("ALLOWLIST_CACHE_TTL_SEC", 21600)) * time.Second,

		TasksAPIURL:        getEnv("TASKS_API_URL", ""),
		TasksAPIKey:        getEnv("TASKS_API_KEY", ""),
		TasksTeamID:        getEnv("TASKS_TEAM_ID", ""),
		TasksAssigneeID:    getEnv("TASKS_ASSIGNEE_ID", ""),
		TasksEmailListID:   getEnv("TASKS_EMAIL_LIST_ID", ""),
		TasksSpaceClients:  getEnv("TASKS_SPACE_ID_CLIENTS", ""),
		TasksSpaceSystems:  getEnv("TASKS_SPACE_ID_SYSTEMS", ""),
		TasksSpaceMktg:     getEnv("TASKS_SPACE_ID_MARKETING", ""),
		TasksSpacePersonal: getEnv("TASKS_SPACE_ID_PERSONAL", ""),

		ScheduleConfigPath: getEnv("SCHEDULER_CONFIG", ""),

		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 20)) * time.Second,
		SweepTimeout:   time.Duration(getEnvInt("SWEEP_TIMEOUT_SEC", 60)) * time.Second,

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location resolves the configured IANA timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
