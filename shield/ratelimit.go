package shield

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/missingmoney/dbopen"
)

// RateLimitConfig defines the rate limit for a single endpoint.
type RateLimitConfig struct {
	MaxRequests   int
	WindowSeconds int
	Enabled       bool
}

type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window limits. Rules live
// in the rate_limits table (see Schema) so they can be tuned without a
// restart; endpoints without a rule are unlimited.
type RateLimiter struct {
	db  *sql.DB
	log *slog.Logger

	mu    sync.RWMutex
	rules map[string]RateLimitConfig

	bmu     sync.Mutex
	buckets map[string]*bucket

	exclude []string // path prefixes excluded from rate limiting
	now     func() time.Time
}

// NewRateLimiter creates a rate limiter that reads rules from db. Call
// StartReloader to enable periodic rule refresh and bucket GC.
func NewRateLimiter(db *sql.DB, logger *slog.Logger, excludePrefixes ...string) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		db:      db,
		log:     logger,
		rules:   make(map[string]RateLimitConfig),
		buckets: make(map[string]*bucket),
		exclude: excludePrefixes,
		now:     time.Now,
	}
	rl.Reload(context.Background())
	return rl
}

// SetRule upserts the rule for endpoint ("METHOD /path") and reloads.
func (rl *RateLimiter) SetRule(ctx context.Context, endpoint string, cfg RateLimitConfig) error {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := dbopen.Exec(ctx, rl.db, `INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			max_requests = excluded.max_requests,
			window_seconds = excluded.window_seconds,
			enabled = excluded.enabled`,
		endpoint, cfg.MaxRequests, cfg.WindowSeconds, enabled)
	if err != nil {
		return fmt.Errorf("shield: set rule %s: %w", endpoint, err)
	}
	return rl.Reload(ctx)
}

// StartReloader reloads rules every 60s and drops expired buckets every
// 5min until done is closed.
func (rl *RateLimiter) StartReloader(done <-chan struct{}) {
	reloadTick := time.NewTicker(60 * time.Second)
	gcTick := time.NewTicker(5 * time.Minute)
	go func() {
		defer reloadTick.Stop()
		defer gcTick.Stop()
		for {
			select {
			case <-done:
				return
			case <-reloadTick.C:
				rl.Reload(context.Background())
			case <-gcTick.C:
				rl.gc()
			}
		}
	}()
}

// Reload replaces the in-memory rules with the table's contents. On error
// the previous rules stay in effect.
func (rl *RateLimiter) Reload(ctx context.Context) error {
	rows, err := rl.db.QueryContext(ctx, `SELECT endpoint, max_requests, window_seconds, enabled FROM rate_limits`)
	if err != nil {
		rl.log.Warn("ratelimit: failed to reload rules", "error", err)
		return fmt.Errorf("shield: reload rules: %w", err)
	}
	defer rows.Close()

	rules := make(map[string]RateLimitConfig)
	for rows.Next() {
		var endpoint string
		var cfg RateLimitConfig
		var enabled int
		if err := rows.Scan(&endpoint, &cfg.MaxRequests, &cfg.WindowSeconds, &enabled); err != nil {
			continue
		}
		cfg.Enabled = enabled == 1
		rules[endpoint] = cfg
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("shield: reload rules: %w", err)
	}

	rl.mu.Lock()
	rl.rules = rules
	rl.mu.Unlock()

	rl.log.Debug("ratelimit: rules reloaded", "count", len(rules))
	return nil
}

func (rl *RateLimiter) gc() {
	now := rl.now()
	rl.bmu.Lock()
	defer rl.bmu.Unlock()
	for key, b := range rl.buckets {
		if now.After(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}

// allow counts one request and reports whether it fits, plus the time left
// in the current window.
func (rl *RateLimiter) allow(ip, endpoint string) (bool, time.Duration) {
	rl.mu.RLock()
	cfg, ok := rl.rules[endpoint]
	rl.mu.RUnlock()

	if !ok || !cfg.Enabled || cfg.MaxRequests <= 0 {
		return true, 0
	}

	window := time.Duration(cfg.WindowSeconds) * time.Second
	key := ip + ":" + endpoint
	now := rl.now()

	rl.bmu.Lock()
	defer rl.bmu.Unlock()
	b, found := rl.buckets[key]
	if !found || now.After(b.resetAt) {
		rl.buckets[key] = &bucket{count: 1, resetAt: now.Add(window)}
		return true, window
	}
	b.count++
	return b.count <= cfg.MaxRequests, b.resetAt.Sub(now)
}

// Middleware enforces the limits with a 429 JSON response and Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		ok, wait := rl.allow(ip, endpoint)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		secs := int(wait.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		WriteJSONError(w, http.StatusTooManyRequests, "Too many searches. Please wait a minute and try again.", true)
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
