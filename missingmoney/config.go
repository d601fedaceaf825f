package missingmoney

import (
	"errors"
	"log/slog"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/browser"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/config"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/slots"
	"github.com/hazyhaar/missingmoney/solver"
)

// Config is the top-level missingmoney configuration. Re-exported from internal.
type Config = config.Config

// ServerConfig controls the HTTP surface.
type ServerConfig = config.ServerConfig

// SlotsConfig bounds concurrent browser sessions.
type SlotsConfig = config.SlotsConfig

// SearchConfig controls one search.
type SearchConfig = config.SearchConfig

// BrowserConfig controls Chrome sessions.
type BrowserConfig = config.BrowserConfig

// SolverConfig controls the challenge-solver client.
type SolverConfig = config.SolverConfig

// LoadConfig reads an optional YAML file and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig returns the defaults without reading the environment.
func DefaultConfig() *Config {
	return config.Default()
}

// Open builds a Service with the real browser launcher, driver and solver
// client described by cfg. Close the Service to stop the launcher.
func Open(cfg *Config, rec Recorder, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("missingmoney: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stealth := browser.LevelHeadless
	if cfg.Browser.Headful() {
		stealth = browser.LevelHeadful
	}
	launcher := browser.New(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		Bin:              cfg.Browser.Bin,
		NoSandbox:        cfg.Browser.NoSandbox,
		Stealth:          stealth,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		LaunchTimeout:    cfg.Browser.LaunchTimeout,
		Logger:           logger,
	})

	client := solver.New(solver.Config{
		BaseURL:      cfg.Solver.BaseURL,
		PollInterval: cfg.Solver.PollInterval,
		MaxAttempts:  cfg.Solver.MaxAttempts,
		Logger:       logger,
	})

	var probe Probe
	if cfg.Search.MemoryThreshold > 0 {
		probe = NewMemoryProbe(cfg.Search.MemoryThreshold)
	}

	return New(Options{
		Slots: slots.New(slots.Config{
			Capacity: cfg.Slots.MaxConcurrent,
			Wait:     cfg.Slots.QueueTimeout,
			Logger:   logger,
		}),
		Launcher: launcher,
		Driver: driver.New(driver.Config{
			TargetURL: cfg.Search.TargetURL,
			Logger:    logger,
		}),
		Solver:           func(key string) driver.Solver { return client.ForKey(key) },
		DefaultSolverKey: cfg.Solver.APIKey,
		Probe:            probe,
		Recorder:         rec,
		Timeout:          cfg.Search.Timeout,
		Attempts:         cfg.Search.Attempts,
		RetryDelay:       cfg.Search.RetryDelay,
		Placeholder:      cfg.Search.Placeholder,
		Logger:           logger,
		closer:           launcher,
		breaker:          client.Breaker(),
	})
}
