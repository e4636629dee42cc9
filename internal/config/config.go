// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

// Config collects the engine tunables. Every field has a sane default and an
// environment variable override, so daemons and tests can run without a .env.
type Config struct {
	RedisAddr string
	RedisDB   int

	DatabaseURL string

	// HeartbeatInterval is how often an active participant refreshes its
	// lastSeenAt. Must stay well below InactiveThreshold or the reaper will
	// evict live players.
	HeartbeatInterval time.Duration

	// InactiveThreshold is the age past which a player's heartbeat counts as
	// expired. Kept at >= 3x HeartbeatInterval.
	InactiveThreshold time.Duration

	ReaperInterval    time.Duration
	PollInterval      time.Duration
	CountdownDuration time.Duration

	// TxRetries bounds optimistic transaction retries before surfacing
	// ErrConflict.
	TxRetries int

	ArchiveQueue       string
	HistorianBatchSize int
	HistorianFlush     time.Duration
}

// Load reads the configuration from environment variables, applying defaults
// for anything unset.
func Load() Config {
	return Config{
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		HeartbeatInterval:  getEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		InactiveThreshold:  getEnvDuration("INACTIVE_THRESHOLD", 30*time.Second),
		ReaperInterval:     getEnvDuration("REAPER_INTERVAL", 15*time.Second),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 2*time.Second),
		CountdownDuration:  getEnvDuration("COUNTDOWN_DURATION", 10*time.Second),
		TxRetries:          getEnvInt("TX_RETRIES", 8),
		ArchiveQueue:       getEnv("ARCHIVE_QUEUE_NAME", ""),
		HistorianBatchSize: getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlush:     getEnvDuration("HISTORIAN_FLUSH", 500*time.Millisecond),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses an environment variable with time.ParseDuration, else
// returns the default.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
