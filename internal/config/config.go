package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Booking   BookingConfig
	Email     EmailConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Scheduler SchedulerConfig
	CORS      CORSConfig
	Security  SecurityConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// JWTConfig holds staff token configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// StripeConfig holds the platform Stripe credentials.
// Per-company connected accounts are stored on the company row.
type StripeConfig struct {
	SecretKey     string // platform secret key (SECRET - never expose to client)
	WebhookSecret string // signing secret for /payments/webhook
	MaxRetries    int
	RetryBackoff  time.Duration
}

// BookingConfig holds booking link and token settings
type BookingConfig struct {
	TokenTTLHours    int
	FrontendURL      string // base URL the emailed booking link points at
	CustomerLoginURL string // included in first-booking invitations
}

// EmailConfig holds SendGrid configuration
type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

// RedisConfig holds the webhook event cache connection
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	EventTTL time.Duration
}

// RabbitMQConfig holds the booking event publisher connection
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// SchedulerConfig holds cron expressions (seconds precision)
type SchedulerConfig struct {
	DepositRetrySpec string
	PendingSweepSpec string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost       int
	EnableRequestLog bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			MaxRetries:    getEnvAsInt("STRIPE_MAX_RETRIES", 3),
			RetryBackoff:  time.Duration(getEnvAsInt("STRIPE_RETRY_BACKOFF_MS", 200)) * time.Millisecond,
		},
		Booking: BookingConfig{
			TokenTTLHours:    getEnvAsInt("BOOKING_TOKEN_TTL_HOURS", 72),
			FrontendURL:      getEnv("FRONTEND_URL", "http://localhost:3000"),
			CustomerLoginURL: getEnv("CUSTOMER_LOGIN_URL", "http://localhost:3000/login"),
		},
		Email: EmailConfig{
			SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", "bookings@rentflow.local"),
			FromName:       getEnv("EMAIL_FROM_NAME", "RentFlow"),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			EventTTL: time.Duration(getEnvAsInt("REDIS_EVENT_TTL_HOURS", 72)) * time.Hour,
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "rental"),
		},
		Scheduler: SchedulerConfig{
			// second minute hour day month weekday
			DepositRetrySpec: getEnv("CRON_DEPOSIT_RETRY", "0 */15 * * * *"),
			PendingSweepSpec: getEnv("CRON_PENDING_SWEEP", "0 */5 * * * *"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.TokenTTLHours <= 0 {
		return fmt.Errorf("BOOKING_TOKEN_TTL_HOURS must be positive")
	}

	// A missing Stripe key is tolerated in development; payment calls then
	// fail with a configuration error instead of the server refusing to start.
	if c.Server.Environment == "production" {
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.Stripe.WebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	if c.Stripe.MaxRetries < 0 {
		return fmt.Errorf("STRIPE_MAX_RETRIES cannot be negative")
	}

	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
