package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port        string
	FrontendURL string
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type PaymentConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type KafkaConfig struct {
	// Brokers empty disables notification publishing.
	Brokers []string
	Topic   string
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Payment  PaymentConfig
	Auth     AuthConfig
	Kafka    KafkaConfig
}

// New loads configuration from the environment, reading a .env file first
// when one exists.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.Port = getenv("APP_PORT", "8080")
	cfg.App.FrontendURL = getenv("FRONTEND_URL", "http://localhost:3000")

	var err error
	if cfg.Postgres.Host, err = require("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Port, err = require("DB_PORT"); err != nil {
		return nil, err
	}
	if cfg.Postgres.User, err = require("DB_USER"); err != nil {
		return nil, err
	}
	if cfg.Postgres.Password, err = require("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Postgres.DBName, err = require("DB_NAME"); err != nil {
		return nil, err
	}
	cfg.Postgres.SSLMode = getenv("DB_SSLMODE", "disable")
	cfg.Postgres.MaxConns = int32(getenvInt("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(getenvInt("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = time.Duration(getenvInt("DB_MAX_CONN_LIFETIME_MIN", 30)) * time.Minute
	cfg.Postgres.MigrationsPath = getenv("DB_MIGRATIONS_PATH", "migrations")

	cfg.Payment.BaseURL = getenv("PAYMENT_BASE_URL", "https://api.fastpay.dev")
	if cfg.Payment.SecretKey, err = require("PAYMENT_SECRET_KEY"); err != nil {
		return nil, err
	}
	if cfg.Payment.WebhookSecret, err = require("PAYMENT_WEBHOOK_SECRET"); err != nil {
		return nil, err
	}
	cfg.Payment.Timeout = time.Duration(getenvInt("PAYMENT_TIMEOUT_MS", 10000)) * time.Millisecond

	if cfg.Auth.JWTSecret, err = require("JWT_SECRET"); err != nil {
		return nil, err
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = getenv("KAFKA_TOPIC", "order-confirmations")

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func require(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("config: %s is required", key)
	}
	return v, nil
}
