package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// xvfbReadyTimeout bounds how long a new display may take to open its socket.
const xvfbReadyTimeout = 5 * time.Second

// xvfbDisplay is the shared virtual display. ready is closed once the X
// socket exists or startup failed; err is only read after ready.
type xvfbDisplay struct {
	cmd    *exec.Cmd
	exited chan struct{}
	ready  chan struct{}
	err    error
}

func defaultXvfbCommand(display, screen string) *exec.Cmd {
	return exec.Command("Xvfb", display, "-screen", "0", screen, "-ac")
}

// ensureXvfb starts the shared Xvfb display on first use and waits until it
// accepts connections. l.mu is only held to claim or publish the display,
// so Close and other launches are never blocked by a slow start.
func (l *Launcher) ensureXvfb(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.New("browser: launcher is closed")
	}
	d := l.xvfb
	owner := d == nil
	if owner {
		d = &xvfbDisplay{ready: make(chan struct{})}
		l.xvfb = d
	}
	l.mu.Unlock()

	if owner {
		l.bootXvfb(d)
	}
	select {
	case <-d.ready:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Launcher) bootXvfb(d *xvfbDisplay) {
	defer close(d.ready)
	fail := func(err error) {
		d.err = err
		l.mu.Lock()
		if l.xvfb == d {
			l.xvfb = nil
		}
		l.mu.Unlock()
		l.killXvfb(d)
	}

	display := l.cfg.XvfbDisplay
	fp := l.cfg.Fingerprint
	cmd := l.xvfbCommand(display, fmt.Sprintf("%dx%dx24", fp.Width, fp.Height))
	if err := cmd.Start(); err != nil {
		fail(fmt.Errorf("start xvfb: %w", err))
		return
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	l.mu.Lock()
	d.cmd, d.exited = cmd, exited
	closed := l.closed
	l.mu.Unlock()
	if closed {
		fail(errors.New("browser: launcher is closed"))
		return
	}

	socket := filepath.Join(l.x11Dir, "X"+displayNumber(display))
	deadline := time.NewTimer(xvfbReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(socket); err == nil {
			l.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
			return
		}
		select {
		case <-exited:
			fail(fmt.Errorf("xvfb on %s exited during startup", display))
			return
		case <-deadline.C:
			fail(fmt.Errorf("xvfb on %s not ready after %s", display, xvfbReadyTimeout))
			return
		case <-tick.C:
		}
	}
}

// displayNumber maps ":99" or ":99.0" to "99".
func displayNumber(display string) string {
	n := strings.TrimPrefix(display, ":")
	n, _, _ = strings.Cut(n, ".")
	return n
}

// killXvfb stops d's process, if it was started, and waits for it to exit.
func (l *Launcher) killXvfb(d *xvfbDisplay) {
	l.mu.Lock()
	cmd, exited := d.cmd, d.exited
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	cmd.Process.Kill()
	<-exited
}

// stopXvfb detaches and kills the shared display.
func (l *Launcher) stopXvfb() {
	l.mu.Lock()
	d := l.xvfb
	l.xvfb = nil
	l.mu.Unlock()
	if d == nil {
		return
	}
	l.killXvfb(d)
	l.cfg.Logger.Info("browser: xvfb stopped")
}
