// Package config handles missingmoney configuration from a YAML file and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level missingmoney configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Slots   SlotsConfig   `yaml:"slots"`
	Search  SearchConfig  `yaml:"search"`
	Browser BrowserConfig `yaml:"browser"`
	Solver  SolverConfig  `yaml:"solver"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	DBPath         string   `yaml:"db_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SearchRateLimit is the default number of searches per minute per IP.
	SearchRateLimit int `yaml:"search_rate_limit"`
	// SearchRetention is how long search log entries are kept. Default 30 days.
	SearchRetention time.Duration `yaml:"search_retention"`
	// ExposeSearches serves the per-search log, which holds searched names,
	// at /api/searches. Off by default; the summary is always served.
	ExposeSearches bool `yaml:"expose_searches"`
}

// SlotsConfig bounds concurrent browser sessions.
type SlotsConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	QueueTimeout  time.Duration `yaml:"queue_timeout"`
}

// SearchConfig controls one search.
type SearchConfig struct {
	TargetURL string        `yaml:"target_url"`
	Timeout   time.Duration `yaml:"timeout"`
	// Attempts is the total number of tries for retryable failures.
	Attempts   int           `yaml:"attempts"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// MemoryThreshold is the used-memory percentage above which new
	// searches are refused as resource exhaustion. Default 95; negative
	// disables the probe.
	MemoryThreshold float64 `yaml:"memory_threshold"`
	// Placeholder returns a synthetic record when nothing was extracted.
	Placeholder *bool `yaml:"placeholder"`
}

// BrowserConfig controls Chrome sessions.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	NoSandbox        bool          `yaml:"no_sandbox"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	LaunchTimeout    time.Duration `yaml:"launch_timeout"`
}

// SolverConfig controls the challenge-solver client.
type SolverConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	// APIKey is used when a request asks for the solver without its own key.
	APIKey string `yaml:"api_key"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file. Defaults are applied;
// environment overrides are not.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads path when non-empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "3000"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "data/missingmoney.db"
	}
	if c.Server.SearchRateLimit <= 0 {
		c.Server.SearchRateLimit = 10
	}
	if c.Server.SearchRetention <= 0 {
		c.Server.SearchRetention = 30 * 24 * time.Hour
	}
	if c.Slots.MaxConcurrent <= 0 {
		c.Slots.MaxConcurrent = 3
	}
	if c.Slots.QueueTimeout <= 0 {
		c.Slots.QueueTimeout = 300 * time.Second
	}
	if c.Search.TargetURL == "" {
		c.Search.TargetURL = "https://www.missingmoney.com/app/claim-search"
	}
	if c.Search.Timeout <= 0 {
		c.Search.Timeout = 5 * time.Minute
	}
	if c.Search.Attempts <= 0 {
		c.Search.Attempts = 2
	}
	if c.Search.RetryDelay <= 0 {
		c.Search.RetryDelay = 2 * time.Second
	}
	if c.Search.MemoryThreshold == 0 {
		c.Search.MemoryThreshold = 95
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Browser.LaunchTimeout <= 0 {
		c.Browser.LaunchTimeout = 60 * time.Second
	}
	if c.Solver.BaseURL == "" {
		c.Solver.BaseURL = "https://api.2captcha.com"
	}
	if c.Solver.PollInterval <= 0 {
		c.Solver.PollInterval = 3 * time.Second
	}
	if c.Solver.MaxAttempts <= 0 {
		c.Solver.MaxAttempts = 40
	}
}

// ApplyEnv overrides fields from environment variables read through
// lookup. Durations accept Go syntax ("90s") or a bare number of seconds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s=%q: want a positive integer", key, v))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", key, v, err))
			return
		}
		*dst = d
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: want a boolean", key, v))
			return
		}
		*dst = b
	}

	num("MAX_CONCURRENT_BROWSERS", &c.Slots.MaxConcurrent)
	dur("BROWSER_QUEUE_TIMEOUT", &c.Slots.QueueTimeout)
	dur("SEARCH_TIMEOUT", &c.Search.Timeout)
	str("TARGET_URL", &c.Search.TargetURL)
	str("SOLVER_BASE_URL", &c.Solver.BaseURL)
	str("SOLVER_API_KEY", &c.Solver.APIKey)
	str("BROWSER_REMOTE_URL", &c.Browser.Remote)
	str("CHROME_BIN", &c.Browser.Bin)
	flag("BROWSER_NO_SANDBOX", &c.Browser.NoSandbox)
	str("DB_PATH", &c.Server.DBPath)
	str("PORT", &c.Server.Port)
	flag("EXPOSE_SEARCHES", &c.Server.ExposeSearches)

	var headful bool
	if v, ok := lookup("BROWSER_HEADFUL"); ok && v != "" {
		flag("BROWSER_HEADFUL", &headful)
		if headful {
			c.Browser.Stealth = "headful"
		} else {
			c.Browser.Stealth = "headless"
		}
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseDuration accepts Go duration syntax or a bare number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// Headful reports whether the browser runs headful under Xvfb.
func (b BrowserConfig) Headful() bool {
	return strings.EqualFold(b.Stealth, "headful")
}

// PlaceholderEnabled reports whether the synthetic placeholder record is on.
func (s SearchConfig) PlaceholderEnabled() bool {
	return s.Placeholder == nil || *s.Placeholder
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
