// Package config loads the application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backend names accepted in PEERLINK_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreRelay  = "relay"
)

// Config holds the application configuration.
type Config struct {
	// Store selects the signaling store backend: memory, redis or relay.
	Store string

	// RelayURL is the relay WebSocket endpoint, required for the relay store.
	RelayURL string

	// Redis connection settings, used by the redis store.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// STUNServers are the ICE servers offered to the peer connection.
	STUNServers []string

	// MatchWait bounds a random-match search.
	MatchWait time.Duration

	// FeatureRoot is the path root of room links.
	FeatureRoot string

	// Port is the relay server's listen port.
	Port string
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	cfg := &Config{
		Store:         getEnv("PEERLINK_STORE", StoreMemory),
		RelayURL:      os.Getenv("PEERLINK_RELAY_URL"),
		RedisAddr:     getEnv("PEERLINK_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("PEERLINK_REDIS_PASSWORD"),
		FeatureRoot:   getEnv("PEERLINK_FEATURE_ROOT", "peer-practice"),
		Port:          getEnv("PORT", "8080"),
	}

	switch cfg.Store {
	case StoreMemory, StoreRedis, StoreRelay:
	default:
		return nil, fmt.Errorf("PEERLINK_STORE must be memory, redis or relay, got %q", cfg.Store)
	}
	if cfg.Store == StoreRelay && cfg.RelayURL == "" {
		return nil, fmt.Errorf("PEERLINK_RELAY_URL is required for the relay store")
	}

	if raw := os.Getenv("PEERLINK_REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("PEERLINK_REDIS_DB: %w", err)
		}
		cfg.RedisDB = db
	}

	stun := getEnv("PEERLINK_STUN_SERVERS", "stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302")
	for _, s := range strings.Split(stun, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.STUNServers = append(cfg.STUNServers, s)
		}
	}

	cfg.MatchWait = 30 * time.Second
	if raw := os.Getenv("PEERLINK_MATCH_WAIT"); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("PEERLINK_MATCH_WAIT: %w", err)
		}
		cfg.MatchWait = wait
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
