// internal/config/config.go

// Package config reads process configuration from the environment.
package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/valdren309/oa-compass-admin/internal/oa"
)

type Relay struct {
	Port           string
	BindHost       string
	AllowedOrigins []string
	OA             oa.Config
	RateLimit      rate.Limit
	RateBurst      int
	DatabaseURL    string
	MaxBodyBytes   int64
	PolicyFile     string
}

// Addr is the listen address.
func (c Relay) Addr() string { return net.JoinHostPort(c.BindHost, c.Port) }

// LoadRelay reads the relay configuration. Missing provider settings are
// not an error here; the gateway reports them per request.
func LoadRelay() Relay {
	cfg := Relay{
		Port:           envStr("PORT", "8081"),
		BindHost:       envStr("BIND_HOST", "127.0.0.1"),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),
		OA: oa.Config{
			BaseURL:        strings.TrimRight(envStr("OA_BASE_URL", ""), "/"),
			Tenant:         envStr("OA_TENANT", ""),
			APIKey:         envStr("OA_API_KEY", ""),
			UsernamePrefix: envStr("OA_USERNAME_PREFIX", "iast-"),
			CreateURL:      envStr("OA_CREATE_URL", ""),
			Timeout:        envDur("OA_TIMEOUT", 15*time.Second),
		},
		RateLimit:    rate.Limit(envInt("RELAY_RATE_LIMIT", 10)),
		RateBurst:    envInt("RELAY_RATE_BURST", 20),
		DatabaseURL:  envStr("DATABASE_URL", ""),
		MaxBodyBytes: int64(envInt("MAX_BODY_BYTES", oa.DefaultMaxBodyBytes)),
		PolicyFile:   envStr("OA_POLICY_FILE", ""),
	}
	if cfg.OA.CreateURL == "" && cfg.OA.BaseURL != "" && cfg.OA.Tenant != "" {
		cfg.OA.CreateURL = cfg.OA.BaseURL + "/v1/" + cfg.OA.Tenant + "/account/create"
	}
	return cfg
}

type Compass struct {
	Port          string
	AlmaBaseURL   string
	AlmaAPIKey    string
	RelayBaseURL  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	AlmaTimeout   time.Duration
	RelayTimeout  time.Duration
}

func LoadCompass() Compass {
	return Compass{
		Port:          envStr("PORT", "8090"),
		AlmaBaseURL:   envStr("ALMA_BASE_URL", "https://api-na.hosted.exlibrisgroup.com"),
		AlmaAPIKey:    envStr("ALMA_API_KEY", ""),
		RelayBaseURL:  envStr("RELAY_BASE_URL", "http://127.0.0.1:8081"),
		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		AlmaTimeout:   envDur("ALMA_TIMEOUT", 30*time.Second),
		RelayTimeout:  envDur("RELAY_TIMEOUT", 20*time.Second),
	}
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envStr(key, "")); err == nil {
		return n
	}
	return def
}

// envDur accepts a Go duration ("15s") or a whole number of seconds.
func envDur(key string, def time.Duration) time.Duration {
	v := envStr(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
