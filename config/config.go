package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the application configuration
type Config struct {
	// OCPP server configuration
	ServerPort    int    `validate:"min=1,max=65535"`
	APIPort       int    `validate:"min=1,max=65535"`
	TLSCertPath   string `validate:"required,file"`
	TLSKeyPath    string `validate:"required,file"`
	ChargePointID string `validate:"required"`

	// Charging configuration
	RFIDToken   string
	MaxCurrent  int `validate:"min=6,max=32"`
	NukeAllowed bool

	// OCPP configuration
	HeartbeatInterval int `validate:"min=1"`

	// Optional charge journal (Postgres)
	JournalEnabled bool
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string

	// Optional NATS bridge
	NATSURL string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	serverPort, err := strconv.Atoi(getEnv("SERVER_PORT", "9000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %v", err)
	}

	apiPort, err := strconv.Atoi(getEnv("API_PORT", "8888"))
	if err != nil {
		return nil, fmt.Errorf("invalid API_PORT: %v", err)
	}

	maxCurrent, err := strconv.Atoi(getEnv("MAX_CURRENT", "32"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CURRENT: %v", err)
	}

	heartbeatInterval, err := strconv.Atoi(getEnv("HEARTBEAT_INTERVAL", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %v", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %v", err)
	}

	cfg := &Config{
		ServerPort:    serverPort,
		APIPort:       apiPort,
		TLSCertPath:   getEnv("TLS_CERT_PATH", "/ssl/fullchain.pem"),
		TLSKeyPath:    getEnv("TLS_KEY_PATH", "/ssl/privkey.pem"),
		ChargePointID: getEnv("CHARGE_POINT_ID", ""),

		RFIDToken:   getEnv("RFID_TOKEN", ""),
		MaxCurrent:  maxCurrent,
		NukeAllowed: getEnv("NUKE_ALLOWED", "true") == "true",

		HeartbeatInterval: heartbeatInterval,

		JournalEnabled: getEnv("JOURNAL_ENABLED", "false") == "true",
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         dbPort,
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "wallbox"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),

		NATSURL: getEnv("NATS_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against the allowed ranges. The cert and
// key paths must point at existing files; max current is bounded by what the
// wallbox hardware accepts (6-32A).
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string for the charge journal
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger configures the global logger
func (c *Config) SetupLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Helper function to get environment variables with fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
