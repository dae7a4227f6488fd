package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all daemon configuration
type Config struct {
	// Server configuration
	ListenAddress string
	Environment   string
	BasePath      string

	// TLS
	TLSCertPath   string
	TLSKeyPath    string
	CreateSSL     bool
	ForceHTTPS    bool
	HTTPSRedirect string // external https host:port used in redirects

	// Schema
	SchemaPath        string
	AccountSchemaPath string

	// Authentication
	AuthEnabled   bool
	JWTSecret     string
	JWTIssuer     string
	SessionMaxAge int // seconds
	Users         map[string]string

	// Transactions
	TxnTimeoutSeconds       int
	ReconnectIntervalMillis int

	// Logging and features
	LogLevel      string
	EnableMetrics bool
	EnableCORS    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddress: getEnv("LISTEN_ADDRESS", ":8091"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		BasePath:      getEnv("BASE_PATH", "/rest/v1"),

		TLSCertPath:   getEnv("TLS_CERT_PATH", "/etc/ssl/certs/server.crt"),
		TLSKeyPath:    getEnv("TLS_KEY_PATH", "/etc/ssl/private/server-private.key"),
		CreateSSL:     getEnvBool("CREATE_SSL", false),
		ForceHTTPS:    getEnvBool("FORCE_HTTPS", false),
		HTTPSRedirect: getEnv("HTTPS_REDIRECT_HOST", ""),

		SchemaPath:        getEnv("SCHEMA_PATH", "/usr/share/openswitch/vswitch.extschema"),
		AccountSchemaPath: getEnv("ACCOUNT_SCHEMA_PATH", ""),

		AuthEnabled:   getEnvBool("AUTH_ENABLED", false),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTIssuer:     getEnv("JWT_ISSUER", "restd"),
		SessionMaxAge: getEnvInt("SESSION_MAX_AGE", 3600),
		Users:         getEnvUsers("AUTH_USERS"),

		TxnTimeoutSeconds:       getEnvInt("TXN_TIMEOUT_SECONDS", 5),
		ReconnectIntervalMillis: getEnvInt("RECONNECT_INTERVAL_MILLIS", 1000),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.AuthEnabled && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED is set")
	}
	if c.SchemaPath == "" {
		return fmt.Errorf("SCHEMA_PATH is required")
	}
	if c.TxnTimeoutSeconds <= 0 {
		return fmt.Errorf("TXN_TIMEOUT_SECONDS must be positive")
	}
	if c.Environment == "production" && c.ForceHTTPS && c.HTTPSRedirect == "" {
		return fmt.Errorf("HTTPS_REDIRECT_HOST is required with FORCE_HTTPS in production")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvUsers parses "user1:pass1,user2:pass2" into a credential map.
func getEnvUsers(key string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		if ok && name != "" {
			users[name] = pass
		}
	}
	return users
}
