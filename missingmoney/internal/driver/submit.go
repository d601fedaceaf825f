package driver

import (
	"context"
)

// submit verifies the challenge token, submits the form and, when the page
// does not react, clicks any visible submit-like element.
func (r *run) submit(ctx context.Context) error {
	if r.res.ChallengeSeen {
		if err := r.ensureToken(ctx); err != nil {
			return err
		}
	}

	r.res.SubmitMethod = r.trigger(ctx)
	r.log.InfoContext(ctx, "driver: form submitted", "method", r.res.SubmitMethod)

	changed, err := r.waitForChange(ctx)
	if err != nil {
		return err
	}
	if !changed && r.evalBool(ctx, clickAnySubmitJS) {
		r.log.InfoContext(ctx, "driver: page unchanged after submit, clicked fallback element")
	}
	return nil
}

// ensureToken checks that a response token longer than minTokenLen is in
// place, solving once more when a solver is available.
func (r *run) ensureToken(ctx context.Context) error {
	n := r.evalInt(ctx, tokenLengthJS)
	if n > minTokenLen {
		r.log.DebugContext(ctx, "driver: challenge token verified", "token_len", n)
		return nil
	}
	if r.solver != nil {
		r.log.InfoContext(ctx, "driver: token missing before submit, solving again")
		if _, err := r.solveChallenge(ctx); err != nil {
			return err
		}
		if n = r.evalInt(ctx, tokenLengthJS); n > minTokenLen {
			return nil
		}
	}
	r.log.WarnContext(ctx, "driver: submitting without a challenge token", "token_len", n)
	return nil
}

// trigger submits the form: submit-labelled button, then requestSubmit,
// then Enter. It returns the method that was used.
func (r *run) trigger(ctx context.Context) string {
	if r.evalBool(ctx, markSubmitJS) {
		err := r.page.Click(ctx, `[data-mm-submit]`)
		if err == nil {
			return "button"
		}
		r.log.DebugContext(ctx, "driver: submit click failed", "error", err)
	}
	if r.evalBool(ctx, requestSubmitJS) {
		return "requestSubmit"
	}
	if err := r.page.PressEnter(ctx); err != nil {
		r.log.WarnContext(ctx, "driver: enter keypress failed", "error", err)
	}
	return "enter"
}

// postSubmitCheck clears a challenge raised by the submission and submits
// again once the widget is gone.
func (r *run) postSubmitCheck(ctx context.Context) error {
	if !r.challengeShowing(ctx) {
		return nil
	}
	if err := r.challengeCheck(ctx); err != nil {
		return err
	}
	if !r.pageChanged(ctx) && !r.challengeShowing(ctx) {
		r.log.InfoContext(ctx, "driver: re-submitting after challenge", "method", r.trigger(ctx))
	}
	return nil
}

// pageChanged reports navigation away from the form or a results indicator.
func (r *run) pageChanged(ctx context.Context) bool {
	if u := r.currentURL(ctx); u != "" && r.formURL != "" && u != r.formURL {
		return true
	}
	return r.evalBool(ctx, resultsIndicatorJS)
}

func (r *run) waitForChange(ctx context.Context) (bool, error) {
	return pollUntil(ctx, r.d.cfg.ChangeCheck, r.d.cfg.PollInterval, func() bool {
		return r.pageChanged(ctx)
	})
}

// awaitResults races navigation and a results element against the results
// wait, then waits for the network to settle. A challenge shown after the
// submit is solved, the form re-submitted and the page polled again.
func (r *run) awaitResults(ctx context.Context) error {
	arrived, err := pollUntil(ctx, r.d.cfg.ResultsWait, r.d.cfg.PollInterval, func() bool {
		return r.pageChanged(ctx)
	})
	if err != nil {
		return err
	}

	idleCtx, cancel := context.WithTimeout(ctx, r.d.cfg.IdleWait)
	if err := r.page.WaitIdle(idleCtx); err != nil && ctx.Err() == nil {
		r.log.DebugContext(ctx, "driver: network not idle", "error", err)
	}
	cancel()
	if err := ctx.Err(); err != nil {
		return err
	}

	if !r.challengeShowing(ctx) {
		if !arrived {
			r.log.InfoContext(ctx, "driver: no results signal within wait, extracting anyway")
		}
		return nil
	}

	r.res.ChallengeSeen = true
	r.log.InfoContext(ctx, "driver: challenge after submit")
	if r.solver == nil {
		return r.waitPassively(ctx)
	}
	solved, err := r.solveChallenge(ctx)
	if err != nil {
		return err
	}
	if solved {
		r.log.InfoContext(ctx, "driver: re-submitting after token", "method", r.trigger(ctx))
	}

	for i := 0; i < r.d.cfg.RecheckAttempts; i++ {
		if r.pageChanged(ctx) {
			r.log.InfoContext(ctx, "driver: results after re-check", "attempt", i+1)
			return nil
		}
		if err := sleep(ctx, r.d.cfg.RecheckInterval); err != nil {
			return err
		}
	}
	r.log.WarnContext(ctx, "driver: still no results after re-check, extracting anyway")
	return nil
}
