// Package browser launches and configures the isolated Chrome sessions the
// search driver runs in: one browser process and one incognito context per
// search, a stealth page with a fixed desktop fingerprint, and the init
// script that captures challenge parameters.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
)

// ErrLaunchTimeout is returned when the browser did not start and
// configure within the launch budget.
var ErrLaunchTimeout = errors.New("browser: launch timed out")

// StealthLevel controls how the browser is started.
type StealthLevel int

const (
	LevelHeadless StealthLevel = iota // headless + stealth page
	LevelHeadful                      // headful under Xvfb
)

func (l StealthLevel) String() string {
	if l == LevelHeadful {
		return "headful"
	}
	return "headless"
}

// Config configures the Launcher.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome per session.
	RemoteURL string

	// Bin is the Chrome binary. Empty lets rod find or download one.
	Bin string

	// NoSandbox disables the Chrome sandbox, required when running as root
	// in a container.
	NoSandbox bool

	// Stealth sets the launch mode. Default: LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// LaunchTimeout bounds process start, connect and page configuration. Default: 60s.
	LaunchTimeout time.Duration

	Fingerprint Fingerprint

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 60 * time.Second
	}
	c.Fingerprint.defaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Launcher starts one browser session per call. It is safe for concurrent
// use; the only state shared between sessions is the Xvfb display.
type Launcher struct {
	cfg Config

	mu     sync.Mutex
	xvfb   *xvfbDisplay
	closed bool

	// Replaced in tests.
	start       func(ctx context.Context) (*Session, error)
	xvfbCommand func(display, screen string) *exec.Cmd
	x11Dir      string
}

var _ driver.Launcher = (*Launcher)(nil)

// New creates a Launcher. Call Close on shutdown to stop Xvfb.
func New(cfg Config) *Launcher {
	cfg.defaults()
	l := &Launcher{cfg: cfg, xvfbCommand: defaultXvfbCommand, x11Dir: "/tmp/.X11-unix"}
	l.start = l.startSession
	return l
}

// Launch starts a browser, opens an incognito context and a configured
// stealth page. Neither the process nor the connection is bound to ctx:
// the session outlives Launch and is torn down by Session.Close. When the
// launch budget runs out first, whatever was started is closed in the
// background and ErrLaunchTimeout is returned.
func (l *Launcher) Launch(ctx context.Context) (driver.Session, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser: launcher is closed")
	}

	launchCtx, cancel := context.WithTimeout(ctx, l.cfg.LaunchTimeout)
	defer cancel()

	type launched struct {
		s   *Session
		err error
	}
	ch := make(chan launched, 1)
	start := time.Now()
	go func() {
		s, err := l.start(launchCtx)
		ch <- launched{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s: %v", ErrLaunchTimeout, l.cfg.LaunchTimeout, r.err)
			}
			return nil, r.err
		}
		l.cfg.Logger.Info("browser: session ready",
			"stealth", l.cfg.Stealth.String(),
			"remote", l.cfg.RemoteURL != "",
			"duration_ms", time.Since(start).Milliseconds())
		return r.s, nil

	case <-launchCtx.Done():
		go func() {
			if r := <-ch; r.s != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := r.s.Close(closeCtx); err != nil {
					l.cfg.Logger.Warn("browser: close after launch timeout", "error", err)
				}
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrLaunchTimeout, l.cfg.LaunchTimeout)
	}
}

// startSession runs the Launching and Configuring steps. A failure in any
// step closes what was already opened.
func (l *Launcher) startSession(ctx context.Context) (*Session, error) {
	log := l.cfg.Logger
	s := &Session{log: log, remote: l.cfg.RemoteURL != ""}

	wsURL := l.cfg.RemoteURL
	if wsURL != "" {
		log.Debug("browser: connecting to remote", "url", wsURL)
	} else {
		lnch, err := l.newProcess(ctx)
		if err != nil {
			return nil, err
		}
		u, err := lnch.Launch()
		if err != nil {
			lnch.Cleanup()
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		s.lnch = lnch
		wsURL = u
		log.Debug("browser: launched local chrome", "url", wsURL, "stealth", l.cfg.Stealth.String())
	}

	fail := func(err error) (*Session, error) {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := s.Close(closeCtx); cerr != nil {
			log.Warn("browser: cleanup after failed launch", "error", cerr)
		}
		return nil, err
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fail(fmt.Errorf("browser: connect: %w", err))
	}
	s.browser = b

	if err := configure(ctx, s, l.cfg); err != nil {
		return fail(err)
	}
	return s, nil
}

// newProcess builds the rod launcher for a local Chrome.
func (l *Launcher) newProcess(ctx context.Context) (*launcher.Launcher, error) {
	fp := l.cfg.Fingerprint
	lnch := launcher.New().
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", fp.Width, fp.Height)).
		Set("lang", fp.Locale)
	if l.cfg.Bin != "" {
		lnch = lnch.Bin(l.cfg.Bin)
	}
	if l.cfg.NoSandbox {
		lnch = lnch.NoSandbox(true)
	}

	if l.cfg.Stealth == LevelHeadful {
		if err := l.ensureXvfb(ctx); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
		lnch = lnch.Headless(false).Env(append(os.Environ(), "DISPLAY="+l.cfg.XvfbDisplay)...)
	} else {
		lnch = lnch.Headless(true)
	}
	return lnch, nil
}

// Close stops the shared Xvfb display. Sessions still open are not
// affected beyond losing their display.
func (l *Launcher) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.stopXvfb()
	return nil
}
