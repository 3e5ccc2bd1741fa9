package config

import (
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Environment string       `koanf:"environment"`
	Server      ServerConfig `koanf:"server"`
	Redis       RedisConfig  `koanf:"redis"`
	JWT         JWTConfig    `koanf:"jwt"`
	Limits      LimitsConfig `koanf:"limits"`
	Routes      RoutesConfig `koanf:"routes"`
	Audit       AuditConfig  `koanf:"audit"`
	Quota       QuotaConfig  `koanf:"quota"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type RedisConfig struct {
	Addr string `koanf:"addr"`
}

type JWTConfig struct {
	Secret string `koanf:"secret"`
	// TTL is the token lifetime in hours.
	TTL int `koanf:"ttl"`
}

type LimitsConfig struct {
	// Rate is the process-wide permits/second ceiling applied before any
	// credential work. Burst caps the bucket; 0 means Burst == Rate.
	Rate  float64 `koanf:"rate"`
	Burst int     `koanf:"burst"`
}

type RoutesConfig struct {
	// Secured paths require a verified session token; Metered paths
	// require a verified API key and are charged against plan quotas.
	Secured string `koanf:"secured"`
	Metered string `koanf:"metered"`
}

type AuditConfig struct {
	// Sink selects where records go: "stdout" (JSON lines) or "sqlite".
	Sink string `koanf:"sink"`
	DB   string `koanf:"db"`
	// Rejections places the capture stage outside the limiters so that
	// 401/429 responses are also recorded.
	Rejections bool `koanf:"rejections"`
}

type QuotaConfig struct {
	// Monthly turns the monthly ceiling into a hard reject.
	Monthly bool `koanf:"monthly"`
	// Atomic switches the daily check to the store-side
	// increment-with-limit script.
	Atomic bool `koanf:"atomic"`
	// Failopen lets traffic through when the counter store is down.
	Failopen bool `koanf:"failopen"`
}

func (c *Config) Production() bool {
	return c.Environment == "production"
}

// Load reads configuration from GATE_-prefixed environment variables,
// e.g. GATE_SERVER_PORT=8080, GATE_JWT_SECRET=..., GATE_LIMITS_RATE=50.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(env.Provider("GATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GATE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]interface{}{
		"environment":    "development",
		"server.port":    8080,
		"redis.addr":     "localhost:6379",
		"jwt.secret":     "secret-key",
		"jwt.ttl":        24,
		"limits.rate":    10.0,
		"limits.burst":   10,
		"routes.secured": "/api/dashboard",
		"routes.metered": "/api/v1",
		"audit.sink":     "stdout",
		"audit.db":       "audit.db",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
