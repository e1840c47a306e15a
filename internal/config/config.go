package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration loaded from environment variables.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	Port        string
	BillingPort string

	// AdminAPIKey protects the /admin surface. Empty disables it.
	AdminAPIKey string

	// UpstreamDefaultURL is used when a developer record carries no
	// upstream base URL of its own.
	UpstreamDefaultURL string
	// BillingServiceURL is where the gateway forwards billing queries,
	// and analytics queries too when AnalyticsServiceURL is empty.
	BillingServiceURL   string
	AnalyticsServiceURL string

	// BillingTimezone is the IANA zone that anchors daily windows and
	// scheduler fire times.
	BillingTimezone string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	LogLevel string

	SeedCatalog bool
}

// Load reads configuration from the environment and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "metergate"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		Port:        getenv("PORT", "8080"),
		BillingPort: getenv("BILLING_PORT", "8081"),

		AdminAPIKey: strings.TrimSpace(getenv("ADMIN_API_KEY", "")),

		UpstreamDefaultURL:  strings.TrimRight(getenv("UPSTREAM_DEFAULT_URL", ""), "/"),
		BillingServiceURL:   strings.TrimRight(getenv("BILLING_SERVICE_URL", "http://localhost:8081"), "/"),
		AnalyticsServiceURL: strings.TrimRight(getenv("ANALYTICS_SERVICE_URL", ""), "/"),

		BillingTimezone: getenv("BILLING_TIMEZONE", "UTC"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "metergate"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		LogLevel: getenv("LOG_LEVEL", "info"),

		SeedCatalog: getenvBool("SEED_CATALOG", true),
	}

	return cfg
}

// Location resolves the billing timezone, falling back to UTC on a bad name.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BillingTimezone)
	if err != nil {
		log.Printf("invalid BILLING_TIMEZONE %q, using UTC", c.BillingTimezone)
		return time.UTC
	}
	return loc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
