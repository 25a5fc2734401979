package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrExpirationNotAllowed is returned when a requested expiration is not in the allow-list
var ErrExpirationNotAllowed = errors.New("expiration not allowed")

// DefaultAllowedDurations is the allow-list used when ALLOWED_DURATIONS is unset
const DefaultAllowedDurations = "30,60,360,1440,10080"

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServiceName      string
	ListenAddr       string
	MaxUploadSizeMB  int
	AllowedDurations string
	IDLength         uint8
	PartSizeMB       int

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// TiDB configuration
	TiDBEnabled  bool
	TiDBHost     string
	TiDBPort     string
	TiDBUser     string
	TiDBPassword string
	TiDBDatabase string

	// Redis configuration
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	TracingEnabled bool
	JaegerEndpoint string

	// Janitor configuration
	JanitorInterval   time.Duration
	SessionStaleAfter time.Duration

	allowed []uint64
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServiceName:      getEnv("SERVICE_NAME", "filedrop"),
		ListenAddr:       getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		MaxUploadSizeMB:  getEnvAsInt("MAX_UPLOAD_SIZE", 10),
		AllowedDurations: getEnv("ALLOWED_DURATIONS", DefaultAllowedDurations),
		IDLength:         uint8(getEnvAsInt("ID_LENGTH", 8)),
		PartSizeMB:       getEnvAsInt("PART_SIZE_MB", 5),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "filedrop"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// TiDB defaults
		TiDBEnabled:  getEnvAsBool("TIDB_ENABLED", false),
		TiDBHost:     getEnv("TIDB_HOST", "localhost"),
		TiDBPort:     getEnv("TIDB_PORT", "4000"),
		TiDBUser:     getEnv("TIDB_USER", "root"),
		TiDBPassword: getEnv("TIDB_PASSWORD", ""),
		TiDBDatabase: getEnv("TIDB_DATABASE", "filedrop"),

		// Redis defaults
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger defaults
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),

		// Janitor defaults
		JanitorInterval:   getEnvAsDuration("JANITOR_INTERVAL", 5*time.Minute),
		SessionStaleAfter: getEnvAsDuration("SESSION_STALE_AFTER", time.Hour),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration and parses the expiration allow-list
func (c *Config) Validate() error {
	if c.IDLength == 0 {
		return fmt.Errorf("ID_LENGTH must be between 1 and 255")
	}
	if c.PartSizeMB < 5 {
		return fmt.Errorf("PART_SIZE_MB must be at least 5, got %d", c.PartSizeMB)
	}
	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSizeMB)
	}
	if c.MinIOBucketName == "" {
		return fmt.Errorf("MINIO_BUCKET_NAME must not be empty")
	}

	c.allowed = ParseDurations(c.AllowedDurations)
	if len(c.allowed) == 0 {
		return fmt.Errorf("ALLOWED_DURATIONS has no valid entries: %q", c.AllowedDurations)
	}
	return nil
}

// ParseDurations parses a comma-separated list of minutes, skipping invalid entries
func ParseDurations(raw string) []uint64 {
	var minutes []uint64
	for _, s := range strings.Split(raw, ",") {
		m, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			continue
		}
		minutes = append(minutes, m)
	}
	return minutes
}

// AllowedMinutes returns the expiration allow-list in configured order
func (c *Config) AllowedMinutes() []uint64 {
	if c.allowed == nil {
		c.allowed = ParseDurations(c.AllowedDurations)
	}
	return c.allowed
}

// DefaultExpiration is the first allowed value, or 30 minutes if the list is empty
func (c *Config) DefaultExpiration() time.Duration {
	allowed := c.AllowedMinutes()
	if len(allowed) == 0 {
		return 30 * time.Minute
	}
	return time.Duration(allowed[0]) * time.Minute
}

// ParseExpiration converts a form value in minutes to a duration.
// Values that do not parse or are not allow-listed yield ErrExpirationNotAllowed.
func (c *Config) ParseExpiration(raw string) (time.Duration, error) {
	m, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrExpirationNotAllowed, raw)
	}
	for _, a := range c.AllowedMinutes() {
		if a == m {
			return time.Duration(m) * time.Minute, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrExpirationNotAllowed, m)
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetPartSizeBytes returns the multipart part threshold in bytes
func (c *Config) GetPartSizeBytes() int {
	return c.PartSizeMB * 1024 * 1024
}

// GetMaxUploadBytes returns the request body limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
