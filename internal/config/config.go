package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	Document string
	// AdvertiseAddr is the address published to the process directory;
	// falls back to Addr when unset.
	AdvertiseAddr string
	// RedisURL is the process directory backend. Empty disables
	// directory announcements.
	RedisURL    string
	IdleTimeout time.Duration
	SendBuffer  int
}

func Load() Config {
	cfg := Config{
		Addr:          getenv("SYNC_ADDR", ":8787"),
		Document:      getenv("SYNC_DOCUMENT", "default"),
		AdvertiseAddr: getenv("SYNC_ADVERTISE_ADDR", ""),
		RedisURL:      getenv("REDIS_URL", ""),
		IdleTimeout:   time.Duration(getenvInt("SYNC_IDLE_TIMEOUT_SECONDS", 60)) * time.Second,
		SendBuffer:    getenvInt("SYNC_SEND_BUFFER", 256),
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = cfg.Addr
	}
	return cfg
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
