package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server:   loadServerConfig(),
		Database: DatabaseConfig{URL: "postgres://localhost/perfhub", MaxOpenConns: 10, MaxIdleConns: 2},
		Cache:    CacheConfig{Backend: CacheBackendMemory, TTL: 5 * time.Minute, Size: 100},
		Audit:    AuditConfig{DatabaseEnabled: true, Retention: 24 * time.Hour, PruneSchedule: "@daily"},
		RateLimit: RateLimitConfig{Enabled: true, PerUser: 100, Anonymous: 10, Burst: 5, Window: time.Minute},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns prefixed env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(envPrefix+tt.key, tt.envValue)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnv_IgnoresUnprefixed(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "redis")
	if got := getEnv("CACHE_BACKEND", "memory"); got != "memory" {
		t.Errorf("getEnv() = %v, want memory", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"no", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv(envPrefix+"TEST_BOOL", tt.envValue)
			if got := getEnvBool("TEST_BOOL", tt.defaultValue); got != tt.want {
				t.Errorf("getEnvBool(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv(envPrefix+"TEST_INT", "42")
	t.Setenv(envPrefix+"TEST_BAD_INT", "forty-two")
	t.Setenv(envPrefix+"TEST_FLOAT", "0.25")
	t.Setenv(envPrefix+"TEST_DURATION", "90s")
	t.Setenv(envPrefix+"TEST_BAD_DURATION", "soon")

	if got := getEnvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt() = %d", got)
	}
	if got := getEnvInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvInt() with invalid value = %d, want default", got)
	}
	if got := getEnvInt64("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvInt64() = %d", got)
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvFloat() = %v", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvDuration() = %v", got)
	}
	if got := getEnvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() with invalid value = %v, want default", got)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(envPrefix+"DATABASE_URL", "postgres://localhost/perfhub")
	t.Setenv(envPrefix+"CACHE_BACKEND", "Redis")
	t.Setenv(envPrefix+"CACHE_TTL", "30s")
	t.Setenv(envPrefix+"REDIS_ADDR", "redis:6379")
	t.Setenv(envPrefix+"SEED_FILE", "/etc/perfhub/seed.yaml")
	t.Setenv(envPrefix+"PORT", "9000")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Cache.Backend != CacheBackendRedis {
		t.Errorf("cache backend = %q", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("redis addr = %q", cfg.Cache.RedisAddr)
	}
	if cfg.Seed.File != "/etc/perfhub/seed.yaml" || !cfg.Seed.ApplyOnStart {
		t.Errorf("seed = %+v", cfg.Seed)
	}
	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr())
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Window != time.Minute {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Observability.OTelServiceName != "perfhub-authz" {
		t.Errorf("service name = %q", cfg.Observability.OTelServiceName)
	}
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	t.Setenv(envPrefix+"DATABASE_URL", "")

	_, err := LoadConfig()
	if err == nil || !strings.Contains(err.Error(), "database URL is required") {
		t.Errorf("expected database URL error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "idle exceeds open",
			mutate:  func(c *Config) { c.Database.MaxIdleConns = 50 },
			wantErr: "exceeds max open conns",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "invalid cache backend",
		},
		{
			name:    "memory cache without size",
			mutate:  func(c *Config) { c.Cache.Size = 0 },
			wantErr: "cache size must be positive",
		},
		{
			name: "redis cache without address",
			mutate: func(c *Config) {
				c.Cache.Backend = CacheBackendRedis
				c.Cache.RedisAddr = ""
			},
			wantErr: "redis address is required",
		},
		{
			name:    "zero TTL",
			mutate:  func(c *Config) { c.Cache.TTL = 0 },
			wantErr: "cache TTL must be positive",
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Audit.Retention = -time.Hour },
			wantErr: "audit retention must not be negative",
		},
		{
			name:    "retention without schedule",
			mutate:  func(c *Config) { c.Audit.PruneSchedule = "" },
			wantErr: "audit prune schedule is required",
		},
		{
			name:   "retention disabled",
			mutate: func(c *Config) { c.Audit = AuditConfig{DatabaseEnabled: true} },
		},
		{
			name:    "zero per-user limit",
			mutate:  func(c *Config) { c.RateLimit.PerUser = 0 },
			wantErr: "rate limits must be positive",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimit.Window = 0 },
			wantErr: "rate limit window must be positive",
		},
		{
			name:   "rate limits ignored when disabled",
			mutate: func(c *Config) { c.RateLimit = RateLimitConfig{} },
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Observability.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "perfhub-authz"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
		{
			name: "otel bad sample ratio",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = "collector:4317"
				c.Observability.OTelServiceName = "perfhub-authz"
				c.Observability.OTelSampleRatio = 2
			},
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}
