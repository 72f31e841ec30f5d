// Package config loads service configuration from the environment, with an
// optional config.yaml for local development. Environment variables use the
// EXPENSE prefix, e.g. EXPENSE_SERVER_PORT=8086.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	NATS     NATSConfig
	Routing  RoutingConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

type AuthConfig struct {
	JWTSecret        string
	TokenTTL         time.Duration
	OTPTTL           time.Duration
	PendingSignupCap int
}

type NATSConfig struct {
	URL string // empty disables publishing
}

type RoutingConfig struct {
	// MaxChainDepth bounds manager-chain walks so a cyclic or absurdly deep
	// hierarchy cannot stall a request.
	MaxChainDepth int
}

// Load reads configuration. Missing optional file is fine; env always wins.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("service.name", "be-expense-claims")
	v.SetDefault("service.version", "dev")
	v.SetDefault("service.environment", "development")

	v.SetDefault("server.port", 8086)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "expense_claims")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_time", "1h")
	v.SetDefault("database.max_idle_time", "30m")
	v.SetDefault("database.health_check", "1m")

	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.otp_ttl", "10m")
	v.SetDefault("auth.pending_signup_cap", 1024)

	v.SetDefault("nats.url", "")

	v.SetDefault("routing.max_chain_depth", 32)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("EXPENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Environment: v.GetString("service.environment"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			Database:    v.GetString("database.database"),
			SSLMode:     v.GetString("database.sslmode"),
			MaxConns:    int32(v.GetInt("database.max_conns")),
			MinConns:    int32(v.GetInt("database.min_conns")),
			MaxConnTime: v.GetDuration("database.max_conn_time"),
			MaxIdleTime: v.GetDuration("database.max_idle_time"),
			HealthCheck: v.GetDuration("database.health_check"),
		},
		Auth: AuthConfig{
			JWTSecret:        v.GetString("auth.jwt_secret"),
			TokenTTL:         v.GetDuration("auth.token_ttl"),
			OTPTTL:           v.GetDuration("auth.otp_ttl"),
			PendingSignupCap: v.GetInt("auth.pending_signup_cap"),
		},
		NATS: NATSConfig{
			URL: v.GetString("nats.url"),
		},
		Routing: RoutingConfig{
			MaxChainDepth: v.GetInt("routing.max_chain_depth"),
		},
	}

	if cfg.Auth.JWTSecret == "" && cfg.Service.Environment == "production" {
		return nil, fmt.Errorf("auth.jwt_secret is required in production")
	}
	if cfg.Routing.MaxChainDepth < 1 {
		return nil, fmt.Errorf("routing.max_chain_depth must be at least 1")
	}

	return cfg, nil
}
