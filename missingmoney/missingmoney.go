// Package missingmoney runs unclaimed-property searches against the
// claim-search site. A Service takes a browser slot, launches an isolated
// session, drives the search form, extracts result rows and turns whatever
// happened into exactly one Outcome.
package missingmoney

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/missingmoney/extract"
	"github.com/hazyhaar/missingmoney/idgen"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/slots"
	"github.com/hazyhaar/missingmoney/solver"
	"github.com/hazyhaar/missingmoney/store"
)

// SolverFunc returns a challenge solver bound to apiKey.
type SolverFunc func(apiKey string) driver.Solver

// Recorder persists finished searches. Implementations must not block.
type Recorder interface {
	RecordSearch(e *store.Search)
}

// Options wires a Service. Slots, Launcher and Driver are required.
type Options struct {
	Slots    *slots.Manager
	Launcher driver.Launcher
	Driver   *driver.Driver

	// Solver is nil when no solver is available at all.
	Solver SolverFunc
	// DefaultSolverKey is used when a request enables the solver without
	// its own key.
	DefaultSolverKey string

	Probe    Probe
	Recorder Recorder
	NewID    idgen.Generator

	Timeout      time.Duration // overall search deadline, default 5m
	CloseTimeout time.Duration // session close budget, default 5s
	Attempts     int           // tries for launch/navigation timeouts, default 2
	RetryDelay   time.Duration // first backoff, doubled each retry, default 2s

	// Placeholder controls the synthetic record for empty pages. Nil means on.
	Placeholder *bool

	Logger *slog.Logger

	// closer releases resources owned by the Service, set by Open.
	closer io.Closer
	// breaker is the solver client's circuit breaker, reported by Health.
	breaker *solver.Breaker
}

func (o *Options) defaults() error {
	if o.Slots == nil || o.Launcher == nil || o.Driver == nil {
		return errors.New("missingmoney: Slots, Launcher and Driver are required")
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("srch_", idgen.Default)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}

// Service runs searches. It is safe for concurrent use.
type Service struct {
	opts Options
	log  *slog.Logger
}

// New creates a Service from explicit components.
func New(opts Options) (*Service, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	return &Service{opts: opts, log: opts.Logger}, nil
}

// Slots exposes the slot manager for stats reporting.
func (s *Service) Slots() *slots.Manager { return s.opts.Slots }

// Probe exposes the resource probe, or nil.
func (s *Service) Probe() Probe { return s.opts.Probe }

// Close releases resources the Service owns.
func (s *Service) Close() error {
	if s.opts.closer != nil {
		return s.opts.closer.Close()
	}
	return nil
}

// Search runs one search and always returns an Outcome. Failures are
// reported inside it; ctx cancellation yields a cancelled outcome.
func (s *Service) Search(ctx context.Context, req Request) *Outcome {
	start := time.Now()
	id := s.opts.NewID()
	log := s.log.With("search_id", id)

	var sum summary
	out := s.search(ctx, log, req, &sum)
	out.SearchID = id

	dur := time.Since(start)
	s.record(id, req, out, &sum, dur)

	attrs := []any{
		"success", out.Success,
		"results", len(out.Results),
		"total", out.TotalAmount,
		"attempts", sum.attempts,
		"solver_used", sum.solverUsed,
		"duration_ms", dur.Milliseconds(),
	}
	if out.Success {
		log.InfoContext(ctx, "missingmoney: search finished", append(attrs, "pass", sum.pass)...)
	} else {
		log.WarnContext(ctx, "missingmoney: search failed",
			append(attrs, "kind", out.Kind, "retryable", out.Retryable, "error", sum.err)...)
	}
	return out
}

// summary collects what Search reports beyond the Outcome.
type summary struct {
	attempts   int
	pass       string
	solverUsed bool
	err        error
}

func (s *Service) search(ctx context.Context, log *slog.Logger, req Request, sum *summary) *Outcome {
	fail := func(err error) *Outcome {
		sum.err = err
		return failureOutcome(err)
	}

	n, err := req.Normalize()
	if err != nil {
		return fail(err)
	}
	log.InfoContext(ctx, "missingmoney: search started",
		"first_name", n.Form.FirstName, "last_name", n.Form.LastName,
		"city", n.Form.City, "state", n.Form.State, "use_solver", req.UseSolver)

	if s.opts.Probe != nil {
		if err := s.opts.Probe.Check(ctx); err != nil {
			return fail(err)
		}
	}

	tok, err := s.opts.Slots.Acquire(ctx)
	if err != nil {
		return fail(err)
	}
	defer s.opts.Slots.Release(tok)
	if q := tok.Queued(); q > 0 {
		log.InfoContext(ctx, "missingmoney: slot granted after queueing", "queued_ms", q.Milliseconds())
	}

	sctx, cancel := context.WithTimeoutCause(ctx, s.opts.Timeout, ErrSearchTimeout)
	defer cancel()

	slv := s.solverFor(ctx, log, req)
	res, err := s.withRetry(sctx, log, sum, func(ctx context.Context) (*extract.Result, error) {
		return s.attempt(ctx, log, n, slv, sum)
	})
	if err != nil {
		if sctx.Err() != nil && ctx.Err() == nil {
			err = s.deadlineErr(sctx)
		}
		return fail(err)
	}
	sum.pass = res.Pass
	return successOutcome(res)
}

// solverFor returns the solver for req, or nil when the request did not ask
// for one or no key is available.
func (s *Service) solverFor(ctx context.Context, log *slog.Logger, req Request) driver.Solver {
	if !req.UseSolver || s.opts.Solver == nil {
		return nil
	}
	key := req.SolverAPIKey
	if key == "" {
		key = s.opts.DefaultSolverKey
	}
	if key == "" {
		log.WarnContext(ctx, "missingmoney: solver requested without an API key, waiting challenges out")
		return nil
	}
	return s.opts.Solver(key)
}

// withRetry retries fn on launch and navigation timeouts with exponential
// backoff, within ctx.
func (s *Service) withRetry(ctx context.Context, log *slog.Logger, sum *summary, fn func(context.Context) (*extract.Result, error)) (*extract.Result, error) {
	var lastErr error
	for attempt := 0; attempt < s.opts.Attempts; attempt++ {
		sum.attempts = attempt + 1
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return nil, lastErr
		}

		if attempt < s.opts.Attempts-1 {
			wait := s.opts.RetryDelay * (1 << uint(attempt))
			log.WarnContext(ctx, "missingmoney: retrying search",
				"attempt", attempt+1,
				"max_attempts", s.opts.Attempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err)
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, lastErr
			case <-t.C:
			}
		}
	}
	return nil, lastErr
}

// attempt runs one browser session end to end. The driver runs in its own
// goroutine and is raced against ctx; on expiry the session is force-closed
// so a wedged browser cannot hold the slot.
func (s *Service) attempt(ctx context.Context, log *slog.Logger, n Normalized, slv driver.Solver, sum *summary) (*extract.Result, error) {
	sess, err := s.opts.Launcher.Launch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.deadlineErr(ctx)
		}
		return nil, err
	}

	var once sync.Once
	closeSession := func() {
		once.Do(func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CloseTimeout)
			defer cancel()
			if err := sess.Close(cctx); err != nil {
				log.WarnContext(ctx, "missingmoney: session close", "error", err)
			}
		})
	}
	defer closeSession()

	type driven struct {
		res *driver.Result
		err error
	}
	done := make(chan driven, 1)
	go func() {
		res, err := s.opts.Driver.Run(ctx, sess.Page(), n.Form, slv)
		done <- driven{res, err}
	}()

	var dr driven
	select {
	case dr = <-done:
	case <-ctx.Done():
		log.WarnContext(ctx, "missingmoney: deadline reached, force-closing session")
		closeSession()
		return nil, s.deadlineErr(ctx)
	}
	if dr.res != nil {
		sum.solverUsed = sum.solverUsed || dr.res.SolverUsed
	}
	if dr.err != nil {
		if ctx.Err() != nil {
			return nil, s.deadlineErr(ctx)
		}
		return nil, dr.err
	}

	res, err := extract.Run(dr.res.HTML, dr.res.Text, extract.Options{
		OwnerNames:  n.Owners,
		Placeholder: s.opts.Placeholder,
	})
	if err != nil {
		return nil, err
	}

	if dr.res.OnFormPage && dr.res.ChallengePresent && slv != nil && extractedNothing(res) {
		return nil, fmt.Errorf("%w: still on the form page with a challenge showing", ErrChallengeBlocking)
	}
	return res, nil
}

func extractedNothing(res *extract.Result) bool {
	return len(res.Records) == 0 || res.Pass == "placeholder"
}

// deadlineErr reports ctx's expiry as ErrSearchTimeout when the search
// deadline caused it, and as ctx.Err() otherwise.
func (s *Service) deadlineErr(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrSearchTimeout) {
		return fmt.Errorf("%w after %s", ErrSearchTimeout, s.opts.Timeout)
	}
	return ctx.Err()
}

func (s *Service) record(id string, req Request, out *Outcome, sum *summary, dur time.Duration) {
	if s.opts.Recorder == nil {
		return
	}
	e := &store.Search{
		ID:         id,
		Timestamp:  time.Now(),
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		City:       req.City,
		State:      req.State,
		UseSolver:  req.UseSolver,
		SolverUsed: sum.solverUsed,
		Success:    out.Success,
		Results:    len(out.Results),
		Total:      out.TotalAmount,
		Pass:       sum.pass,
		Kind:       string(out.Kind),
		Error:      out.Error,
		Retryable:  out.Retryable,
		Attempts:   sum.attempts,
		DurationMs: dur.Milliseconds(),
	}
	s.opts.Recorder.RecordSearch(e)
}
