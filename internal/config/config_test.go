package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "be-expense-claims" {
		t.Fatalf("service name = %q", cfg.Service.Name)
	}
	if cfg.Server.Port != 8086 {
		t.Fatalf("port = %d, want 8086", cfg.Server.Port)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("token ttl = %s, want 1h", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.OTPTTL != 10*time.Minute {
		t.Fatalf("otp ttl = %s, want 10m", cfg.Auth.OTPTTL)
	}
	if cfg.Routing.MaxChainDepth != 32 {
		t.Fatalf("max chain depth = %d, want 32", cfg.Routing.MaxChainDepth)
	}
	if cfg.NATS.URL != "" {
		t.Fatalf("nats url = %q, want empty by default", cfg.NATS.URL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EXPENSE_SERVER_PORT", "9091")
	t.Setenv("EXPENSE_DATABASE_HOST", "db.internal")
	t.Setenv("EXPENSE_ROUTING_MAX_CHAIN_DEPTH", "5")
	t.Setenv("EXPENSE_NATS_URL", "nats://broker:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9091 {
		t.Fatalf("port = %d, want 9091", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("db host = %q", cfg.Database.Host)
	}
	if cfg.Routing.MaxChainDepth != 5 {
		t.Fatalf("max chain depth = %d, want 5", cfg.Routing.MaxChainDepth)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Fatalf("nats url = %q", cfg.NATS.URL)
	}
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("EXPENSE_SERVICE_ENVIRONMENT", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing jwt_secret in production")
	}

	t.Setenv("EXPENSE_AUTH_JWT_SECRET", "prod-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != "prod-secret" {
		t.Fatalf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadRejectsBadChainDepth(t *testing.T) {
	t.Setenv("EXPENSE_ROUTING_MAX_CHAIN_DEPTH", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for max_chain_depth below 1")
	}
}
