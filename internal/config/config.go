// Package config loads the relay's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the relay reads from its environment (§6).
type Config struct {
	IngressPort string // TUNNEL_RELAY_HTTP
	IngressHost string // TUNNEL_RELAY_HTTP_HOST
	ControlPort string // TUNNEL_RELAY_CTRL

	TunnelDomain string // TUNNEL_DOMAIN
	AliasDomain  string // ALIAS_DOMAIN

	ValidateTokens    bool   // TUNNEL_VALIDATE_TOKENS
	ControlPlaneBase  string // AGENTCLOUD_API_BASE

	RateLimitRequests int           // TUNNEL_RATE_LIMIT_REQUESTS
	MaxRequestSize    int64         // TUNNEL_MAX_REQUEST_SIZE
	PendingTimeout    time.Duration // fixed 30s per §4.E, kept as a field for tests

	CtrlTLS         bool   // TUNNEL_CTRL_TLS
	CtrlCA          string // TUNNEL_CTRL_CA
	CtrlCert        string // TUNNEL_CTRL_CERT
	CtrlKey         string // TUNNEL_CTRL_KEY
	CtrlTLSInsecure bool   // TUNNEL_CTRL_TLS_INSECURE

	InternalSecret string // RELAY_INTERNAL_SECRET
}

// Default values, named so tests and docs can reference them directly.
const (
	DefaultIngressPort      = "8080"
	DefaultControlPort      = "7071"
	DefaultRateLimit        = 1000
	DefaultMaxRequestSize   = 10 << 20 // 10 MiB
	DefaultPendingTimeout   = 30 * time.Second
	DefaultTokenCacheTTL    = 60 * time.Second
	DefaultStaleGraceFactor = 5
	DefaultCacheCeiling     = 10_000
	DefaultJanitorInterval  = 5 * time.Minute
	DefaultRateLimitWindow  = 60 * time.Second
)

// Load reads Config from the process environment, applying the defaults from
// §6 wherever a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{
		IngressPort:       getEnv("TUNNEL_RELAY_HTTP", DefaultIngressPort),
		IngressHost:       getEnv("TUNNEL_RELAY_HTTP_HOST", "127.0.0.1"),
		ControlPort:       getEnv("TUNNEL_RELAY_CTRL", DefaultControlPort),
		TunnelDomain:      getEnv("TUNNEL_DOMAIN", "tunnel.example"),
		AliasDomain:       getEnv("ALIAS_DOMAIN", "example"),
		ValidateTokens:    getEnvBool("TUNNEL_VALIDATE_TOKENS", false),
		ControlPlaneBase:  getEnv("AGENTCLOUD_API_BASE", ""),
		RateLimitRequests: getEnvInt("TUNNEL_RATE_LIMIT_REQUESTS", DefaultRateLimit),
		MaxRequestSize:    getEnvInt64("TUNNEL_MAX_REQUEST_SIZE", DefaultMaxRequestSize),
		PendingTimeout:    DefaultPendingTimeout,
		CtrlTLS:           getEnvBool("TUNNEL_CTRL_TLS", false),
		CtrlCA:            getEnv("TUNNEL_CTRL_CA", ""),
		CtrlCert:          getEnv("TUNNEL_CTRL_CERT", ""),
		CtrlKey:           getEnv("TUNNEL_CTRL_KEY", ""),
		CtrlTLSInsecure:   getEnvBool("TUNNEL_CTRL_TLS_INSECURE", false),
		InternalSecret:    getEnv("RELAY_INTERNAL_SECRET", ""),
	}

	if cfg.ValidateTokens && cfg.ControlPlaneBase == "" {
		return nil, fmt.Errorf("config: TUNNEL_VALIDATE_TOKENS is set but AGENTCLOUD_API_BASE is empty")
	}
	if cfg.RateLimitRequests <= 0 {
		return nil, fmt.Errorf("config: TUNNEL_RATE_LIMIT_REQUESTS must be positive, got %d", cfg.RateLimitRequests)
	}
	if cfg.MaxRequestSize <= 0 {
		return nil, fmt.Errorf("config: TUNNEL_MAX_REQUEST_SIZE must be positive, got %d", cfg.MaxRequestSize)
	}
	if cfg.CtrlTLS && (cfg.CtrlCert == "" || cfg.CtrlKey == "") {
		return nil, fmt.Errorf("config: TUNNEL_CTRL_TLS is set but TUNNEL_CTRL_CERT/TUNNEL_CTRL_KEY are not both provided")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
