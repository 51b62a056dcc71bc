package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process configuration, read once from the environment at
// startup. Tunable session defaults live in the yaml file watched by
// Defaults instead.
type Config struct {
	ListenAddr string

	DBHost string
	DBUser string
	DBPass string
	DBName string

	RedisAddr string // empty disables the latest-tick cache
	NATSAddr  string // empty disables alert publishing

	SidecarBase string // inference sidecar base URL

	VideoRoot  string
	RecordRoot string

	InferWorkers int
	AlertLevel   int
	RecordGrace  time.Duration

	DefaultsPath string // optional yaml with session param defaults
}

func FromEnv() Config {
	cfg := Config{
		ListenAddr:   envOr("LISTEN_ADDR", ":8089"),
		DBHost:       os.Getenv("DB_HOST"),
		DBUser:       os.Getenv("DB_USER"),
		DBPass:       os.Getenv("DB_PASSWORD"),
		DBName:       os.Getenv("DB_NAME"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		NATSAddr:     os.Getenv("NATS_ADDR"),
		SidecarBase:  envOr("INFER_SIDECAR_URL", "http://127.0.0.1:8501"),
		VideoRoot:    envOr("VIDEO_ROOT", "videos"),
		RecordRoot:   envOr("RECORD_ROOT", "records/detect"),
		InferWorkers: envIntOr("INFER_WORKERS", 2),
		AlertLevel:   envIntOr("ALERT_LEVEL", 4),
		RecordGrace:  3 * time.Second,
		DefaultsPath: os.Getenv("DETECT_DEFAULTS_PATH"),
	}
	return cfg
}

// DSN builds the postgres connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
		c.DBUser, c.DBPass, c.DBHost, c.DBName)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
