package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
)

// Fingerprint is the fixed desktop profile every session presents.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
	Platform       string
	Width, Height  int
	Locale         string
	Timezone       string
	Latitude       float64
	Longitude      float64
	Accuracy       float64
}

// DefaultFingerprint is a Windows Chrome desktop in Austin, TX.
var DefaultFingerprint = Fingerprint{
	UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	AcceptLanguage: "en-US,en;q=0.9",
	Platform:       "Win32",
	Width:          1366,
	Height:         768,
	Locale:         "en-US",
	Timezone:       "America/Chicago",
	Latitude:       30.2672,
	Longitude:      -97.7431,
	Accuracy:       100,
}

func (f *Fingerprint) defaults() {
	d := DefaultFingerprint
	if f.UserAgent == "" {
		f.UserAgent = d.UserAgent
	}
	if f.AcceptLanguage == "" {
		f.AcceptLanguage = d.AcceptLanguage
	}
	if f.Platform == "" {
		f.Platform = d.Platform
	}
	if f.Width <= 0 || f.Height <= 0 {
		f.Width, f.Height = d.Width, d.Height
	}
	if f.Locale == "" {
		f.Locale = d.Locale
	}
	if f.Timezone == "" {
		f.Timezone = d.Timezone
	}
	if f.Latitude == 0 && f.Longitude == 0 {
		f.Latitude, f.Longitude = d.Latitude, d.Longitude
	}
	if f.Accuracy <= 0 {
		f.Accuracy = d.Accuracy
	}
}

// configure opens the incognito context and the stealth page, then applies
// the fingerprint, the init script and resource blocking. All CDP calls are
// bounded by ctx; the handles themselves are not.
func configure(ctx context.Context, s *Session, cfg Config) error {
	inc, err := s.browser.Incognito()
	if err != nil {
		return fmt.Errorf("browser: incognito context: %w", err)
	}
	s.incognito = inc

	page, err := stealth.Page(inc)
	if err != nil {
		return fmt.Errorf("browser: create page: %w", err)
	}
	s.page = page

	fp := cfg.Fingerprint
	p := page.Context(ctx)

	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.Width,
		Height:            fp.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("browser: viewport: %w", err)
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
		Platform:       fp.Platform,
	}); err != nil {
		return fmt.Errorf("browser: user agent: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: fp.Locale}).Call(p); err != nil {
		return fmt.Errorf("browser: locale: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(p); err != nil {
		return fmt.Errorf("browser: timezone: %w", err)
	}

	grant := proto.BrowserGrantPermissions{
		Permissions:      []proto.BrowserPermissionType{proto.BrowserPermissionTypeGeolocation},
		BrowserContextID: inc.BrowserContextID,
	}
	if err := grant.Call(s.browser.Context(ctx)); err != nil {
		s.log.Warn("browser: geolocation permission", "error", err)
	}
	lat, lon, acc := fp.Latitude, fp.Longitude, fp.Accuracy
	if err := (proto.EmulationSetGeolocationOverride{
		Latitude:  &lat,
		Longitude: &lon,
		Accuracy:  &acc,
	}).Call(p); err != nil {
		return fmt.Errorf("browser: geolocation: %w", err)
	}

	if _, err := p.EvalOnNewDocument(driver.InitScript); err != nil {
		return fmt.Errorf("browser: init script: %w", err)
	}

	if len(cfg.ResourceBlocking) > 0 {
		s.router = applyResourceBlocking(page, cfg.ResourceBlocking)
	}
	return nil
}
