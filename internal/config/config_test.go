package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("default store = %s", cfg.Store)
	}
	if cfg.MatchWait != 30*time.Second {
		t.Errorf("default match wait = %s", cfg.MatchWait)
	}
	if len(cfg.STUNServers) != 2 {
		t.Errorf("default stun servers = %v", cfg.STUNServers)
	}
	if cfg.FeatureRoot != "peer-practice" {
		t.Errorf("default feature root = %s", cfg.FeatureRoot)
	}
}

func TestOverrides(t *testing.T) {
	t.Setenv("PEERLINK_STORE", "redis")
	t.Setenv("PEERLINK_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("PEERLINK_REDIS_DB", "3")
	t.Setenv("PEERLINK_MATCH_WAIT", "45s")
	t.Setenv("PEERLINK_STUN_SERVERS", "stun:stun.example.org:3478")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store != StoreRedis || cfg.RedisAddr != "redis.internal:6380" || cfg.RedisDB != 3 {
		t.Errorf("redis config = %+v", cfg)
	}
	if cfg.MatchWait != 45*time.Second {
		t.Errorf("match wait = %s", cfg.MatchWait)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != "stun:stun.example.org:3478" {
		t.Errorf("stun servers = %v", cfg.STUNServers)
	}
}

func TestRelayRequiresURL(t *testing.T) {
	t.Setenv("PEERLINK_STORE", "relay")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without PEERLINK_RELAY_URL")
	}

	t.Setenv("PEERLINK_RELAY_URL", "ws://localhost:8080/ws")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RelayURL != "ws://localhost:8080/ws" {
		t.Errorf("relay url = %s", cfg.RelayURL)
	}
}

func TestInvalidStoreRejected(t *testing.T) {
	t.Setenv("PEERLINK_STORE", "dynamo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}
