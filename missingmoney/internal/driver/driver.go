// Package driver runs one search through the claim-search form in an
// already configured browser page: navigate, clear the anti-bot challenge,
// fill the form, submit and wait for results.
//
// The driver only talks to the page through the Page interface; the rod
// implementation lives in the browser package.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/missingmoney/solver"
)

// ErrNavigationTimeout is returned when the form page did not load within
// the navigation budget.
var ErrNavigationTimeout = errors.New("driver: navigation timed out")

// ErrElementNotFound is returned by Page implementations when a selector
// matches nothing.
var ErrElementNotFound = errors.New("driver: element not found")

// Page is the narrow view of a browser tab the driver needs.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Eval runs a JavaScript function expression with args.
	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	// Type scrolls to, hovers, focuses and clears the element, then types
	// text with roughly perChar between keystrokes.
	Type(ctx context.Context, selector, text string, perChar time.Duration) error
	// Click clicks the element matching selector.
	Click(ctx context.Context, selector string) error
	// PressEnter sends an Enter keypress to the focused element.
	PressEnter(ctx context.Context) error
	// WaitIdle waits until the network has been quiet for a short while.
	WaitIdle(ctx context.Context) error
}

// Session is one isolated browser session.
type Session interface {
	Page() Page
	// Close tears the session down: page, browser context, browser.
	Close(ctx context.Context) error
}

// Launcher creates sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Solver obtains a proof token for a challenge.
type Solver interface {
	Solve(ctx context.Context, d solver.Descriptor) (*solver.Solution, error)
}

// ChallengeDescriptor is the set of parameters sent to the solver.
type ChallengeDescriptor = solver.Descriptor

// Form holds the normalised values typed into the search form.
type Form struct {
	LastName  string
	FirstName string
	City      string
	// State is matched against select options by full name or code.
	State     string
	StateCode string
}

// Result is what the driver observed once the flow finished.
type Result struct {
	HTML string
	Text string
	URL  string

	// OnFormPage is true when the search form is still displayed.
	OnFormPage bool
	// ChallengePresent is true when an unsolved challenge is still showing.
	ChallengePresent bool
	// ChallengeSeen is true when a challenge appeared at any point.
	ChallengeSeen bool
	// SolverUsed is true when a solver token was injected.
	SolverUsed bool
	// SubmitMethod is how the form was submitted: button, requestSubmit, enter.
	SubmitMethod string

	States []State
}

// Config configures a Driver. Zero values take the defaults noted.
type Config struct {
	// TargetURL is the claim-search form. Default: https://www.missingmoney.com/app/claim-search.
	TargetURL string

	NavigationTimeout time.Duration // default 30s
	GracePeriod       time.Duration // passive wait on a challenge without solver, default 45s
	ResultsWait       time.Duration // default 15s
	IdleWait          time.Duration // cap on the network-idle wait, default 5s
	ChallengeClear    time.Duration // wait for the widget to clear after injection, default 5s
	ChangeCheck       time.Duration // wait for the page to react to a submit, default 3s
	RecheckAttempts   int           // default 30
	RecheckInterval   time.Duration // default 1.5s
	PollInterval      time.Duration // default 500ms
	TypeDelay         time.Duration // per character, default 70ms

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.TargetURL == "" {
		c.TargetURL = "https://www.missingmoney.com/app/claim-search"
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 45 * time.Second
	}
	if c.ResultsWait <= 0 {
		c.ResultsWait = 15 * time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 5 * time.Second
	}
	if c.ChallengeClear <= 0 {
		c.ChallengeClear = 5 * time.Second
	}
	if c.ChangeCheck <= 0 {
		c.ChangeCheck = 3 * time.Second
	}
	if c.RecheckAttempts <= 0 {
		c.RecheckAttempts = 30
	}
	if c.RecheckInterval <= 0 {
		c.RecheckInterval = 1500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.TypeDelay <= 0 {
		c.TypeDelay = 70 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver runs the search flow. It holds no per-search state and is safe
// for concurrent use across sessions.
type Driver struct {
	cfg Config
}

// New creates a Driver.
func New(cfg Config) *Driver {
	cfg.defaults()
	return &Driver{cfg: cfg}
}

// run carries the state of one Run call.
type run struct {
	d       *Driver
	page    Page
	solver  Solver
	log     *slog.Logger
	formURL string
	res     Result
}

// Run drives page through the search. slv may be nil, in which case
// challenges are waited out passively. The returned error is non-nil only
// when the flow could not reach the results stage: navigation failure or
// ctx cancellation. Everything else degrades to the next fallback.
func (d *Driver) Run(ctx context.Context, page Page, form Form, slv Solver) (*Result, error) {
	r := &run{
		d:      d,
		page:   page,
		solver: slv,
		log:    d.cfg.Logger.With("target", d.cfg.TargetURL),
	}

	r.enter(ctx, StateNavigating)
	if err := r.navigate(ctx); err != nil {
		r.enter(ctx, StateAborted)
		return &r.res, err
	}

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StatePreChallengeCheck, r.challengeCheck},
		{StateFormFilling, func(ctx context.Context) error { return r.fillForm(ctx, form) }},
		{StatePreSubmitChallengeCheck, r.challengeCheck},
		{StateSubmitting, r.submit},
		{StatePostSubmitChallengeCheck, r.postSubmitCheck},
		{StateAwaitingResults, r.awaitResults},
	}
	for _, s := range steps {
		r.enter(ctx, s.state)
		if err := s.fn(ctx); err != nil {
			r.enter(ctx, StateAborted)
			return &r.res, err
		}
	}

	if err := r.collect(ctx); err != nil {
		r.enter(ctx, StateAborted)
		return &r.res, err
	}
	r.enter(ctx, StateDone)
	return &r.res, nil
}

func (r *run) enter(ctx context.Context, s State) {
	r.res.States = append(r.res.States, s)
	r.log.DebugContext(ctx, "driver: state", "state", s.String())
}

func (r *run) navigate(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, r.d.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	err := r.page.Navigate(navCtx, r.d.cfg.TargetURL)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrNavigationTimeout, r.d.cfg.NavigationTimeout)
		}
		return fmt.Errorf("driver: navigate: %w", err)
	}

	r.formURL = r.currentURL(ctx)
	r.log.InfoContext(ctx, "driver: form loaded",
		"url", r.formURL, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// collect reads the final page state.
func (r *run) collect(ctx context.Context) error {
	html, err := r.page.Eval(ctx, htmlJS)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("driver: read page: %w", err)
	}
	r.res.HTML = jsonStr(html)
	r.res.Text = r.evalStr(ctx, pageTextJS)
	r.res.URL = r.currentURL(ctx)
	r.res.OnFormPage = r.evalBool(ctx, onFormPageJS) || (r.res.URL != "" && r.res.URL == r.formURL)
	r.res.ChallengePresent = r.evalBool(ctx, detectChallengeJS)

	r.log.InfoContext(ctx, "driver: results collected",
		"url", r.res.URL,
		"on_form_page", r.res.OnFormPage,
		"challenge_present", r.res.ChallengePresent,
		"solver_used", r.res.SolverUsed,
		"html_bytes", len(r.res.HTML))
	return nil
}

func (r *run) currentURL(ctx context.Context) string {
	return r.evalStr(ctx, urlJS)
}

// evalBool evaluates js and treats errors as false; a navigation in flight
// destroys the execution context and is not a failure.
func (r *run) evalBool(ctx context.Context, js string, args ...any) bool {
	v, err := r.page.Eval(ctx, js, args...)
	if err != nil {
		return false
	}
	return v.Bool()
}

func (r *run) evalStr(ctx context.Context, js string, args ...any) string {
	v, err := r.page.Eval(ctx, js, args...)
	if err != nil {
		return ""
	}
	return jsonStr(v)
}

// jsonStr returns the string held by v, or "" for any other kind.
func jsonStr(v gson.JSON) string {
	s, _ := v.Val().(string)
	return s
}

func (r *run) evalInt(ctx context.Context, js string, args ...any) int {
	v, err := r.page.Eval(ctx, js, args...)
	if err != nil || v.Nil() {
		return 0
	}
	return v.Int()
}

// sleep waits for d or ctx.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pollUntil calls cond every interval until it returns true, budget
// elapses (false, nil) or ctx is done.
func pollUntil(ctx context.Context, budget, interval time.Duration, cond func() bool) (bool, error) {
	deadline := time.Now().Add(budget)
	for {
		if cond() {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}
