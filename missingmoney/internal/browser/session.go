package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
)

// Session owns one browser process (or remote connection), one incognito
// context and one page.
type Session struct {
	log    *slog.Logger
	remote bool

	lnch      *launcher.Launcher
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter

	once     sync.Once
	closeErr error
}

var _ driver.Session = (*Session)(nil)

// Page returns the driver view of the session page.
func (s *Session) Page() driver.Page {
	return &page{p: s.page}
}

// Close tears the session down in order: page, incognito context, browser,
// launcher process. Each step runs even when an earlier one failed. A
// remote browser is left running. Later calls return the first
// result.
func (s *Session) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	var errs []error

	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			s.log.Debug("browser: stop hijack router", "error", err)
		}
	}
	if s.page != nil {
		if err := s.page.Context(ctx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
	}
	if s.incognito != nil {
		if err := s.incognito.Context(ctx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close incognito context: %w", err))
		}
	}
	if s.browser != nil && !s.remote {
		if err := s.browser.Context(ctx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.lnch != nil {
		done := make(chan struct{})
		go func() {
			s.lnch.Cleanup()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.lnch.Kill()
			errs = append(errs, fmt.Errorf("cleanup launcher: %w", ctx.Err()))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Warn("browser: session close", "error", err)
		return fmt.Errorf("browser: %w", err)
	}
	s.log.Debug("browser: session closed")
	return nil
}
