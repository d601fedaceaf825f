// Package drivertest provides in-memory fakes of the driver's browser
// interfaces. The fake page understands the driver's scripts by name and
// simulates a claim-search form with an optional challenge widget.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/solver"
)

// Site describes how the fake claim-search site behaves.
type Site struct {
	FormURL     string
	ResultsURL  string
	ResultsHTML string
	ResultsText string

	// Challenge shows a widget as soon as the form loads.
	Challenge bool
	// Persistent keeps the widget up even after a token is injected and
	// makes it block submission.
	Persistent bool
	// ClearsAfter clears the widget on its own once this long has passed
	// since navigation. Zero means never.
	ClearsAfter time.Duration
	// ChallengeAfterSubmit raises a widget on the first submission instead
	// of navigating.
	ChallengeAfterSubmit bool

	// Intercepted is what the init script captured from turnstile.render.
	Intercepted map[string]any
	// SiteKeyAttr is the data-sitekey on the widget element.
	SiteKeyAttr string

	// Missing lists field keys the locator cannot find.
	Missing map[string]bool
	// NoPositional makes the positional fallback find nothing.
	NoPositional bool
	// DropTyping loses keystrokes; only programmatic values stick.
	DropTyping bool
	// IgnoreSubmit leaves the page where it is on every submission.
	IgnoreSubmit bool

	// NavigateDelay blocks Navigate this long, honouring ctx.
	NavigateDelay time.Duration
	NavigateErr   error
}

// Page is a fake driver.Page.
type Page struct {
	site Site

	mu          sync.Mutex
	url         string
	navigatedAt time.Time
	challenge   bool
	token       string
	submits     int
	reached     bool
	values      map[string]string
	calls       []string
}

var _ driver.Page = (*Page)(nil)

// NewPage returns a blank page for site.
func NewPage(site Site) *Page {
	if site.FormURL == "" {
		site.FormURL = "https://claims.test/app/claim-search"
	}
	if site.ResultsURL == "" {
		site.ResultsURL = "https://claims.test/app/claim-search/results"
	}
	return &Page{site: site, url: "about:blank", values: make(map[string]string)}
}

// Calls returns the ordered log of operations: script names for Eval,
// "navigate", "type:<field>", "click" and "enter" for the rest.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Value returns what the field tagged key currently holds.
func (p *Page) Value(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[key]
}

// Token returns the injected challenge token.
func (p *Page) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Submits returns the number of submissions the page received.
func (p *Page) Submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submits
}

func (p *Page) record(op string) {
	p.calls = append(p.calls, op)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.record("navigate")
	p.mu.Unlock()

	if d := p.site.NavigateDelay; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if p.site.NavigateErr != nil {
		return p.site.NavigateErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = p.site.FormURL
	p.navigatedAt = time.Now()
	p.challenge = p.site.Challenge
	return nil
}

// showing reports whether the widget is visible. Caller holds mu.
func (p *Page) showing() bool {
	if !p.challenge {
		return false
	}
	if p.site.Persistent {
		return true
	}
	if p.token != "" {
		return false
	}
	if d := p.site.ClearsAfter; d > 0 && time.Since(p.navigatedAt) >= d {
		return false
	}
	return true
}

func (p *Page) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.New(nil), err
	}
	name := driver.ScriptName(js)
	if name == "" {
		return gson.New(nil), fmt.Errorf("drivertest: unknown script")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(name)

	switch name {
	case driver.ScriptURL:
		return gson.New(p.url), nil
	case driver.ScriptHTML:
		return gson.New(p.html()), nil
	case driver.ScriptPageText:
		if p.reached {
			return gson.New(p.site.ResultsText), nil
		}
		return gson.New(""), nil
	case driver.ScriptDetectChallenge:
		return gson.New(p.showing()), nil
	case driver.ScriptReadIntercepted:
		if p.site.Intercepted == nil {
			return gson.New(nil), nil
		}
		return gson.New(p.site.Intercepted), nil
	case driver.ScriptDOMDescriptor:
		if p.site.SiteKeyAttr == "" || !p.challenge {
			return gson.New(nil), nil
		}
		return gson.New(map[string]any{"sitekey": p.site.SiteKeyAttr}), nil
	case driver.ScriptInjectToken:
		p.token = arg(args, 0)
		return gson.New(float64(1)), nil
	case driver.ScriptTokenLength:
		return gson.New(float64(len(p.token))), nil
	case driver.ScriptLocateField:
		key := arg(args, 0)
		if p.site.Missing[key] {
			return gson.New(""), nil
		}
		if key == "state" {
			return gson.New("name:select"), nil
		}
		return gson.New("name:input"), nil
	case driver.ScriptPositional:
		return gson.New(!p.site.NoPositional), nil
	case driver.ScriptBackstopValue:
		p.values[arg(args, 0)] = arg(args, 1)
		return gson.New(true), nil
	case driver.ScriptFieldValue:
		return gson.New(p.values[arg(args, 0)]), nil
	case driver.ScriptSelectOption:
		key := arg(args, 0)
		if opts, ok := argAt(args, 1).([]string); ok && len(opts) > 0 && !p.site.Missing[key] {
			p.values[key] = opts[0]
			return gson.New(true), nil
		}
		return gson.New(false), nil
	case driver.ScriptMarkSubmit:
		return gson.New(true), nil
	case driver.ScriptRequestSubmit, driver.ScriptClickAnySubmit:
		return gson.New(false), nil
	case driver.ScriptResultsIndicator:
		return gson.New(p.reached), nil
	case driver.ScriptOnFormPage:
		return gson.New(!p.reached), nil
	}
	return gson.New(nil), nil
}

// html renders the current document. Caller holds mu.
func (p *Page) html() string {
	if p.reached {
		return p.site.ResultsHTML
	}
	var b strings.Builder
	b.WriteString(`<html><body><form id="claim-search">`)
	b.WriteString(`<input name="lastName"><input name="firstName"><input name="city"><select name="state"></select>`)
	if p.showing() && p.site.SiteKeyAttr != "" {
		fmt.Fprintf(&b, `<div class="cf-turnstile" data-sitekey=%q></div>`, p.site.SiteKeyAttr)
	}
	b.WriteString(`<button type="submit">Search</button></form></body></html>`)
	return b.String()
}

func (p *Page) Type(ctx context.Context, selector, text string, perChar time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := fieldKey(selector)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("type:" + key)
	if p.site.Missing[key] && !p.positionalOK() {
		return driver.ErrElementNotFound
	}
	if !p.site.DropTyping {
		p.values[key] = text
	}
	return nil
}

// positionalOK reports whether the positional fallback has tagged the name
// inputs. Caller holds mu.
func (p *Page) positionalOK() bool {
	if p.site.NoPositional {
		return false
	}
	for _, c := range p.calls {
		if c == driver.ScriptPositional {
			return true
		}
	}
	return false
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click")
	p.submit()
	return nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("enter")
	p.submit()
	return nil
}

// submit applies one form submission. Caller holds mu.
func (p *Page) submit() {
	p.submits++
	if p.site.IgnoreSubmit {
		return
	}
	if p.site.ChallengeAfterSubmit && p.submits == 1 {
		p.challenge = true
		p.token = ""
		return
	}
	if p.showing() {
		return
	}
	p.url = p.site.ResultsURL
	p.reached = true
}

func (p *Page) WaitIdle(ctx context.Context) error {
	return ctx.Err()
}

func fieldKey(selector string) string {
	_, rest, ok := strings.Cut(selector, `data-mm-field="`)
	if !ok {
		return selector
	}
	key, _, _ := strings.Cut(rest, `"`)
	return key
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func arg(args []any, i int) string {
	s, _ := argAt(args, i).(string)
	return s
}

// Solver is a fake driver.Solver.
type Solver struct {
	Token string
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	descs []solver.Descriptor
}

var _ driver.Solver = (*Solver)(nil)

func (s *Solver) Solve(ctx context.Context, d solver.Descriptor) (*solver.Solution, error) {
	s.mu.Lock()
	s.descs = append(s.descs, d)
	s.mu.Unlock()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	token := s.Token
	if token == "" {
		token = "0.fake-turnstile-token-" + strings.Repeat("x", 32)
	}
	return &solver.Solution{Token: token}, nil
}

// Descriptors returns every descriptor Solve was called with.
func (s *Solver) Descriptors() []solver.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]solver.Descriptor(nil), s.descs...)
}

// Session is a fake driver.Session around a Page.
type Session struct {
	P        *Page
	CloseErr error
	// CloseBlocks makes Close wait for ctx.
	CloseBlocks bool

	closed atomic.Int32
}

var _ driver.Session = (*Session)(nil)

func (s *Session) Page() driver.Page { return s.P }

func (s *Session) Close(ctx context.Context) error {
	s.closed.Add(1)
	if s.CloseBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.CloseErr
}

// Closed returns how many times Close was called.
func (s *Session) Closed() int { return int(s.closed.Load()) }

// Launcher is a fake driver.Launcher. Each Launch builds a fresh page for
// Site unless Err is set.
type Launcher struct {
	Site Site
	// Errs are returned by successive Launch calls before falling back to Err.
	Errs  []error
	Err   error
	Delay time.Duration

	mu       sync.Mutex
	launches int
	sessions []*Session
}

var _ driver.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context) (driver.Session, error) {
	l.mu.Lock()
	n := l.launches
	l.launches++
	l.mu.Unlock()

	if l.Delay > 0 {
		t := time.NewTimer(l.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if n < len(l.Errs) && l.Errs[n] != nil {
		return nil, l.Errs[n]
	}
	if l.Err != nil {
		return nil, l.Err
	}

	s := &Session{P: NewPage(l.Site)}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Sessions returns the sessions handed out so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}
