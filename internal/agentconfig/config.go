// Package agentconfig loads daemon configuration from an optional
// config.yaml, merged over defaults and finally overridden by
// ATTEST_* environment variables.
package agentconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr        string
	DataDir           string
	ConsentTimeout    time.Duration
	CollectOnFirstUse bool
	RateLimitRPS      float64
	RateLimitBurst    int
	RateLimitEnabled  bool
}

type fileConfig struct {
	Agent agentSection `yaml:"agent"`
}

type agentSection struct {
	ListenAddr        string        `yaml:"listenAddr"`
	DataDir           string        `yaml:"dataDir"`
	ConsentTimeout    time.Duration `yaml:"consentTimeout"`
	CollectOnFirstUse *bool         `yaml:"collectOnFirstUse"`
	RateLimitRPS      float64       `yaml:"rateLimitRps"`
	RateLimitBurst    int           `yaml:"rateLimitBurst"`
	RateLimitEnabled  *bool         `yaml:"rateLimitEnabled"`
}

func Default() Config {
	return Config{
		ListenAddr:        "127.0.0.1:8787",
		DataDir:           defaultDataDir(),
		ConsentTimeout:    5 * time.Minute,
		CollectOnFirstUse: false,
		RateLimitRPS:      30,
		RateLimitBurst:    60,
		RateLimitEnabled:  true,
	}
}

// LoadFromPath reads configPath if given, otherwise tries the standard
// candidates. Unreadable or unparsable candidates are skipped; the
// daemon always starts with usable defaults.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			filepath.Join(cfg.DataDir, "config.yaml"),
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed.Agent)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src agentSection) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.ConsentTimeout != 0 {
		dst.ConsentTimeout = src.ConsentTimeout
	}
	if src.CollectOnFirstUse != nil {
		dst.CollectOnFirstUse = *src.CollectOnFirstUse
	}
	if src.RateLimitRPS != 0 {
		dst.RateLimitRPS = src.RateLimitRPS
	}
	if src.RateLimitBurst != 0 {
		dst.RateLimitBurst = src.RateLimitBurst
	}
	if src.RateLimitEnabled != nil {
		dst.RateLimitEnabled = *src.RateLimitEnabled
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("ATTEST_LISTEN_ADDR")); addr != "" {
		cfg.ListenAddr = addr
	}
	if dir := strings.TrimSpace(os.Getenv("ATTEST_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}
	if raw := strings.TrimSpace(os.Getenv("ATTEST_CONSENT_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ConsentTimeout = d
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ATTEST_COLLECT_ON_FIRST_USE")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.CollectOnFirstUse = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ATTEST_RATE_LIMIT_RPS")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			cfg.RateLimitRPS = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ATTEST_RATE_LIMIT_BURST")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.RateLimitBurst = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("ATTEST_RATE_LIMIT_ENABLED")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.RateLimitEnabled = v
		}
	}
}

func defaultDataDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "attestd")
	}
	return ".attestd"
}
