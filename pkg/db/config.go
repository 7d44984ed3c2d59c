package db

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StoreKind selects a backing store implementation at startup.
type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
	StoreMemory   StoreKind = "memory"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config is the whole engine configuration, loaded from env.
type Config struct {
	ListenAddr string
	// QuotaStore picks the QuotaGuard backend; LedgerStore picks where
	// coupons, benefits and merchants live.
	QuotaStore  StoreKind
	LedgerStore StoreKind
	Postgres    PostgresConfig
	Redis       RedisConfig
}

func LoadConfig() Config {
	return Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		QuotaStore:  StoreKind(envOr("QUOTA_STORE", string(StorePostgres))),
		LedgerStore: StoreKind(envOr("LEDGER_STORE", string(StorePostgres))),
		Postgres:    loadPostgresConfig(),
		Redis:       loadRedisConfig(),
	}
}

func loadPostgresConfig() PostgresConfig {
	port, _ := strconv.Atoi(envOr("DB_PORT", "5432"))
	return PostgresConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     envOr("DB_USER", "coupon"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   envOr("DB_NAME", "coupon_engine"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
}

func loadRedisConfig() RedisConfig {
	dbNum, _ := strconv.Atoi(envOr("REDIS_DB", "0"))
	return RedisConfig{
		Addr:         envOr("REDIS_ADDR", "localhost:6379"),
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           dbNum,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
