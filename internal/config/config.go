package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser  string
	DBPass  string
	DBHost  string
	DBPort  string
	DBName  string
	SSLMode string

	RedisHost string
	RedisPort string
	NatsHost  string
	NatsPort  string

	ApiPort    string
	ApiEnabled string
	AdminToken string

	LedgerURL      string
	CkBTCMinterURL string
	CkETHMinterURL string

	AuditCap           int
	CacheTTL           time.Duration
	SchedulerInterval  time.Duration
	CheckpointInterval time.Duration
}

// New loads and validates configuration from environment variables.
// HTTP API is optional: if TREASURY_API_ENABLED != "true", ApiAddr() returns
// an error and the HTTP server simply won't start. Settlement endpoints may
// also be configured later through the admin surface, so they are not
// required here.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:  os.Getenv("TREASURY_POSTGRES_USER"),
		DBPass:  os.Getenv("TREASURY_POSTGRES_PASSWORD"),
		DBHost:  os.Getenv("TREASURY_POSTGRES_HOST"),
		DBPort:  os.Getenv("TREASURY_POSTGRES_PORT"),
		DBName:  os.Getenv("TREASURY_POSTGRES_DB"),
		SSLMode: os.Getenv("TREASURY_POSTGRES_SSLMODE"),

		RedisHost: os.Getenv("TREASURY_REDIS_HOST"),
		RedisPort: os.Getenv("TREASURY_REDIS_PORT"),
		NatsHost:  os.Getenv("TREASURY_NATS_HOST"),
		NatsPort:  os.Getenv("TREASURY_NATS_PORT"),

		ApiPort:    os.Getenv("TREASURY_API_PORT"),
		ApiEnabled: os.Getenv("TREASURY_API_ENABLED"),
		AdminToken: os.Getenv("TREASURY_ADMIN_TOKEN"),

		LedgerURL:      os.Getenv("TREASURY_LEDGER_URL"),
		CkBTCMinterURL: os.Getenv("TREASURY_CKBTC_MINTER_URL"),
		CkETHMinterURL: os.Getenv("TREASURY_CKETH_MINTER_URL"),

		AuditCap:           getEnvInt("TREASURY_AUDIT_CAP", 1000),
		CacheTTL:           getEnvDuration("TREASURY_CACHE_TTL", 5*time.Second),
		SchedulerInterval:  getEnvDuration("TREASURY_SCHEDULER_INTERVAL", time.Minute),
		CheckpointInterval: getEnvDuration("TREASURY_CHECKPOINT_INTERVAL", 5*time.Second),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBName == "" || cfg.SSLMode == "" {
		return nil, fmt.Errorf("missing required env for database: TREASURY_POSTGRES_USER/HOST/PORT/DB/SSLMODE")
	}

	// Required: redis
	if cfg.RedisHost == "" || cfg.RedisPort == "" {
		return nil, fmt.Errorf("missing required env for redis: TREASURY_REDIS_HOST/PORT")
	}

	// Required: nats
	if cfg.NatsHost == "" || cfg.NatsPort == "" {
		return nil, fmt.Errorf("missing required env for nats: TREASURY_NATS_HOST/PORT")
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if TREASURY_API_ENABLED != "true"; callers should skip
// starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("TREASURY_API_PORT is required when TREASURY_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (TREASURY_API_ENABLED != true)")
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
