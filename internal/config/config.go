package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Database DatabaseConfig
	JWT      JWTConfig
	App      AppConfig
	Payroll  PayrollConfig
	Catalog  CatalogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string
	AccessExpiration time.Duration
}

// AppConfig holds application configuration
type AppConfig struct {
	Name           string
	Version        string
	Port           int
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// PayrollConfig holds calculation and batch settings.
type PayrollConfig struct {
	StandardMonthlyHours decimal.Decimal
	MinimumBasicSalary   decimal.Decimal
	BatchConcurrency     int
	BatchResumeInterval  time.Duration
	StaleBatchAfter      time.Duration
	NotifyWorkers        int
	NotifyQueueSize      int
}

// CatalogConfig points at the statutory defaults seeded into an empty catalog.
// An empty SeedPath uses the embedded defaults; "off" disables seeding.
type CatalogConfig struct {
	SeedPath string
}

func Load() (*Config, error) {
	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{}

	// Database configuration
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	dbMaxConns, err := strconv.Atoi(getEnv("DB_MAX_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "payroll"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: int32(dbMaxConns),
	}

	// Application configuration
	appPort, err := strconv.Atoi(getEnv("APP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid APP_PORT: %w", err)
	}

	config.App = AppConfig{
		Name:           getEnv("APP_NAME", "payroll-engine"),
		Version:        getEnv("APP_VERSION", "v1.0.0"),
		Port:           appPort,
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	// JWT configuration
	accessExpiration, err := time.ParseDuration(getEnv("JWT_ACCESS_EXPIRATION_TIME", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_ACCESS_EXPIRATION_TIME: %w", err)
	}

	config.JWT = JWTConfig{
		Secret:           getEnv("JWT_SECRET_KEY", ""),
		AccessExpiration: accessExpiration,
	}

	// Payroll configuration
	payroll, err := loadPayroll()
	if err != nil {
		return nil, err
	}
	config.Payroll = payroll

	config.Catalog = CatalogConfig{
		SeedPath: getEnv("PAYROLL_CATALOG_SEED", ""),
	}

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadPayroll() (PayrollConfig, error) {
	var (
		p   PayrollConfig
		err error
	)

	if p.StandardMonthlyHours, err = decimal.NewFromString(getEnv("PAYROLL_STANDARD_MONTHLY_HOURS", "160")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_STANDARD_MONTHLY_HOURS: %w", err)
	}
	if p.MinimumBasicSalary, err = decimal.NewFromString(getEnv("PAYROLL_MIN_BASIC_SALARY", "0")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_MIN_BASIC_SALARY: %w", err)
	}
	if p.BatchConcurrency, err = strconv.Atoi(getEnv("PAYROLL_BATCH_CONCURRENCY", "8")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_BATCH_CONCURRENCY: %w", err)
	}
	if p.BatchResumeInterval, err = time.ParseDuration(getEnv("PAYROLL_BATCH_RESUME_INTERVAL", "5m")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_BATCH_RESUME_INTERVAL: %w", err)
	}
	if p.StaleBatchAfter, err = time.ParseDuration(getEnv("PAYROLL_BATCH_STALE_AFTER", "30m")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_BATCH_STALE_AFTER: %w", err)
	}
	if p.NotifyWorkers, err = strconv.Atoi(getEnv("PAYROLL_NOTIFY_WORKERS", "2")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_NOTIFY_WORKERS: %w", err)
	}
	if p.NotifyQueueSize, err = strconv.Atoi(getEnv("PAYROLL_NOTIFY_QUEUE_SIZE", "1000")); err != nil {
		return p, fmt.Errorf("invalid PAYROLL_NOTIFY_QUEUE_SIZE: %w", err)
	}
	return p, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if !c.Payroll.StandardMonthlyHours.IsPositive() {
		return fmt.Errorf("PAYROLL_STANDARD_MONTHLY_HOURS must be positive")
	}
	if c.Payroll.MinimumBasicSalary.IsNegative() {
		return fmt.Errorf("PAYROLL_MIN_BASIC_SALARY must not be negative")
	}
	if c.Payroll.BatchConcurrency < 1 {
		return fmt.Errorf("PAYROLL_BATCH_CONCURRENCY must be at least 1")
	}
	if c.Payroll.StaleBatchAfter <= c.Payroll.BatchResumeInterval {
		return fmt.Errorf("PAYROLL_BATCH_STALE_AFTER must be longer than PAYROLL_BATCH_RESUME_INTERVAL")
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(env, fallback string) []string {
	value := getEnv(env, fallback)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
