package driver

import (
	"context"
	"regexp"
	"time"

	"github.com/ysmood/gson"

	"github.com/hazyhaar/missingmoney/solver"
)

// minTokenLen is the length below which a response field is treated as
// empty.
const minTokenLen = 10

var (
	siteKeyAttrRe = regexp.MustCompile(`data-sitekey\s*=\s*["']([0-9A-Za-z_\-]{10,})["']`)
	siteKeyJSRe   = regexp.MustCompile(`sitekey["']?\s*[:=]\s*["']([0-9A-Za-z_\-]{10,})["']`)
	turnstileKey  = regexp.MustCompile(`\b(0x4[0-9A-Za-z_\-]{18,})\b`)
	actionRe      = regexp.MustCompile(`data-action\s*=\s*["']([^"']+)["']`)
	cDataRe       = regexp.MustCompile(`data-cdata\s*=\s*["']([^"']+)["']`)
)

// challengeCheck clears a challenge if one is showing. Solver failures and
// unresolved challenges are not fatal; only ctx cancellation is.
func (r *run) challengeCheck(ctx context.Context) error {
	if !r.challengeShowing(ctx) {
		return nil
	}
	r.res.ChallengeSeen = true

	if r.solver != nil {
		solved, err := r.solveChallenge(ctx)
		if err != nil {
			return err
		}
		if solved {
			return nil
		}
	}
	return r.waitPassively(ctx)
}

func (r *run) challengeShowing(ctx context.Context) bool {
	return r.evalBool(ctx, detectChallengeJS)
}

// solveChallenge reads the descriptor, calls the solver and injects the
// token. solved is false when any step failed and the caller should fall
// back to waiting.
func (r *run) solveChallenge(ctx context.Context) (solved bool, err error) {
	desc, source, ok := r.readDescriptor(ctx)
	if !ok {
		r.log.WarnContext(ctx, "driver: challenge present but no site key found")
		return false, nil
	}
	r.log.InfoContext(ctx, "driver: solving challenge",
		"site_key", desc.SiteKey, "descriptor_source", source, "has_action", desc.Action != "")

	start := time.Now()
	sol, err := r.solver.Solve(ctx, desc)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.log.WarnContext(ctx, "driver: solver failed", "error", err,
			"duration_ms", time.Since(start).Milliseconds())
		return false, nil
	}

	n := r.evalInt(ctx, injectTokenJS, sol.Token)
	if n == 0 {
		r.log.WarnContext(ctx, "driver: token injection found no field")
		return false, nil
	}
	r.res.SolverUsed = true
	r.log.InfoContext(ctx, "driver: token injected",
		"fields", n, "token_len", len(sol.Token),
		"duration_ms", time.Since(start).Milliseconds())

	cleared, err := pollUntil(ctx, r.d.cfg.ChallengeClear, r.d.cfg.PollInterval, func() bool {
		return !r.challengeShowing(ctx)
	})
	if err != nil {
		return false, err
	}
	if !cleared {
		r.log.DebugContext(ctx, "driver: widget still visible after injection")
	}
	return true, nil
}

// waitPassively waits up to the grace period for the challenge to go away,
// then lets the flow continue.
func (r *run) waitPassively(ctx context.Context) error {
	r.log.InfoContext(ctx, "driver: waiting out challenge", "grace", r.d.cfg.GracePeriod.String())
	cleared, err := pollUntil(ctx, r.d.cfg.GracePeriod, r.d.cfg.PollInterval, func() bool {
		return !r.challengeShowing(ctx)
	})
	if err != nil {
		return err
	}
	if !cleared {
		r.log.WarnContext(ctx, "driver: challenge still present after grace period, proceeding")
	}
	return nil
}

// readDescriptor builds the solver descriptor from the intercepted render
// parameters, then data attributes, then the raw HTML.
func (r *run) readDescriptor(ctx context.Context) (solver.Descriptor, string, bool) {
	pageURL := r.currentURL(ctx)
	if pageURL == "" {
		pageURL = r.d.cfg.TargetURL
	}

	if d, ok := descriptorFrom(r.readInterceptedChallenge(ctx)); ok {
		d.PageURL = pageURL
		return d, "intercepted", true
	}

	if v, err := r.page.Eval(ctx, domDescriptorJS); err == nil {
		if d, ok := descriptorFrom(v); ok {
			d.PageURL = pageURL
			return d, "attributes", true
		}
	}

	html := r.evalStr(ctx, htmlJS)
	if d, ok := descriptorFromHTML(html); ok {
		d.PageURL = pageURL
		return d, "html", true
	}
	return solver.Descriptor{}, "", false
}

// readInterceptedChallenge is the only read of the state InitScript keeps.
func (r *run) readInterceptedChallenge(ctx context.Context) gson.JSON {
	v, err := r.page.Eval(ctx, readInterceptedJS)
	if err != nil {
		return gson.New(nil)
	}
	return v
}

func descriptorFrom(v gson.JSON) (solver.Descriptor, bool) {
	if v.Nil() {
		return solver.Descriptor{}, false
	}
	d := solver.Descriptor{
		SiteKey:  jsonStr(v.Get("sitekey")),
		Action:   jsonStr(v.Get("action")),
		CData:    jsonStr(v.Get("cdata")),
		PageData: jsonStr(v.Get("pagedata")),
	}
	return d, d.SiteKey != ""
}

func descriptorFromHTML(html string) (solver.Descriptor, bool) {
	var d solver.Descriptor
	for _, re := range []*regexp.Regexp{siteKeyAttrRe, siteKeyJSRe, turnstileKey} {
		if m := re.FindStringSubmatch(html); m != nil {
			d.SiteKey = m[1]
			break
		}
	}
	if d.SiteKey == "" {
		return d, false
	}
	if m := actionRe.FindStringSubmatch(html); m != nil {
		d.Action = m[1]
	}
	if m := cDataRe.FindStringSubmatch(html); m != nil {
		d.CData = m[1]
	}
	return d, true
}
