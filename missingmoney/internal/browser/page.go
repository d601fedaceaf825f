package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
)

// idleQuiet is how long the network must be silent to count as idle.
const idleQuiet = 500 * time.Millisecond

// page adapts a rod page to driver.Page. Every call binds ctx to a clone of
// the page so cancellation never leaks into the session.
type page struct {
	p *rod.Page
}

var _ driver.Page = (*page)(nil)

func (pg *page) Navigate(ctx context.Context, url string) error {
	p := pg.p.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (pg *page) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := pg.p.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.New(nil), err
	}
	return res.Value, nil
}

func (pg *page) element(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := pg.p.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", driver.ErrElementNotFound, selector)
	}
	return el, nil
}

// Type moves to the element like a user would, clears it and inserts text
// one character at a time with a jittered delay.
func (pg *page) Type(ctx context.Context, selector, text string, perChar time.Duration) error {
	el, err := pg.element(ctx, selector)
	if err != nil {
		return err
	}
	// Scroll and hover are cosmetic; a hidden-but-typeable input still works.
	_ = el.ScrollIntoView()
	_ = el.Hover()
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	_ = el.SelectAllText()
	if _, err := el.Eval(`() => { this.value = '' }`); err != nil {
		return fmt.Errorf("clear %s: %w", selector, err)
	}

	p := pg.p.Context(ctx)
	for _, r := range text {
		if err := p.InsertText(string(r)); err != nil {
			return fmt.Errorf("type %s: %w", selector, err)
		}
		if err := wait(ctx, jitter(perChar)); err != nil {
			return err
		}
	}
	return nil
}

func (pg *page) Click(ctx context.Context, selector string) error {
	el, err := pg.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (pg *page) PressEnter(ctx context.Context) error {
	return pg.p.Context(ctx).KeyActions().Press(input.Enter).Do()
}

func (pg *page) WaitIdle(ctx context.Context) error {
	pg.p.Context(ctx).WaitRequestIdle(idleQuiet, nil, nil, nil)()
	return ctx.Err()
}

// jitter returns a duration in [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
