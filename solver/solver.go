// Package solver is a client for a 2captcha-compatible challenge-solving
// service. A task is submitted with createTask and polled with getTaskResult
// until the service reports a token, a terminal failure, or the polling
// budget runs out.
//
//	c := solver.New(solver.Config{})
//	sol, err := c.Solve(ctx, apiKey, solver.Descriptor{SiteKey: k, PageURL: u})
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// TaskType is the task type submitted for Turnstile challenges.
const TaskType = "TurnstileTaskProxyless"

// Descriptor holds the parameters needed to request a proof token. SiteKey
// and PageURL are mandatory; the rest improve solver accuracy when known.
type Descriptor struct {
	SiteKey  string `json:"site_key"`
	PageURL  string `json:"page_url"`
	Action   string `json:"action,omitempty"`
	CData    string `json:"cdata,omitempty"`
	PageData string `json:"page_data,omitempty"`
}

// Validate checks the mandatory fields.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.SiteKey) == "" || strings.TrimSpace(d.PageURL) == "" {
		return ErrInvalidDescriptor
	}
	return nil
}

// Solution is the solved proof token and, when reported, the user agent the
// solver used to obtain it.
type Solution struct {
	Token     string `json:"token"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Config configures a Client.
type Config struct {
	// BaseURL of the solver API. Default: https://api.2captcha.com.
	BaseURL string
	// PollInterval between getTaskResult calls. Default: 3s.
	PollInterval time.Duration
	// MaxAttempts is the polling budget. Default: 40.
	MaxAttempts int
	// HTTPTimeout bounds each HTTP call. Default: 30s.
	HTTPTimeout time.Duration

	// Breaker guards the createTask endpoint. Default: NewBreaker().
	Breaker *Breaker
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.2captcha.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 40
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.Breaker == nil {
		c.Breaker = NewBreaker()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to the solver API. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *resty.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{cfg: cfg, http: hc}
}

// Breaker exposes the endpoint breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.cfg.Breaker }

// ForKey binds an API key, producing a value usable wherever a
// single-argument solver is expected.
func (c *Client) ForKey(apiKey string) *Keyed {
	return &Keyed{c: c, key: apiKey}
}

// Keyed is a Client bound to one API key.
type Keyed struct {
	c   *Client
	key string
}

// Solve calls Client.Solve with the bound key.
func (k *Keyed) Solve(ctx context.Context, d Descriptor) (*Solution, error) {
	return k.c.Solve(ctx, k.key, d)
}

type createTaskRequest struct {
	ClientKey string   `json:"clientKey"`
	Task      taskBody `json:"task"`
}

type taskBody struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey"`
	Action     string `json:"action,omitempty"`
	Data       string `json:"data,omitempty"`
	PageData   string `json:"pagedata,omitempty"`
}

type apiStatus struct {
	ErrorID          int    `json:"errorId"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorDescription string `json:"errorDescription,omitempty"`
}

type createTaskResponse struct {
	apiStatus
	TaskID int64 `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	apiStatus
	Status   string    `json:"status"`
	Solution *Solution `json:"solution,omitempty"`
}

// Solve submits d and polls until a token is ready.
//
// Errors: ErrInvalidDescriptor, *ErrCircuitOpen, ErrRejected (submission
// refused or failed), ErrFailed (terminal poll status), ErrTimeout (polling
// budget exhausted) or ctx.Err().
func (c *Client) Solve(ctx context.Context, apiKey string, d Descriptor) (*Solution, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !c.cfg.Breaker.Allow() {
		return nil, &ErrCircuitOpen{Endpoint: c.cfg.BaseURL}
	}

	taskID, err := c.createTask(ctx, apiKey, d)
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.InfoContext(ctx, "solver: task submitted",
		"task_id", taskID, "page_url", d.PageURL)

	start := time.Now()
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		sol, done, err := c.poll(ctx, apiKey, taskID)
		if err != nil {
			return nil, err
		}
		if done {
			c.cfg.Logger.InfoContext(ctx, "solver: token ready",
				"task_id", taskID, "attempts", attempt,
				"duration_ms", time.Since(start).Milliseconds())
			return sol, nil
		}
	}

	c.cfg.Logger.WarnContext(ctx, "solver: polling budget exhausted",
		"task_id", taskID, "attempts", c.cfg.MaxAttempts)
	return nil, ErrTimeout
}

func (c *Client) createTask(ctx context.Context, apiKey string, d Descriptor) (int64, error) {
	var out createTaskResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(createTaskRequest{
			ClientKey: apiKey,
			Task: taskBody{
				Type:       TaskType,
				WebsiteURL: d.PageURL,
				WebsiteKey: d.SiteKey,
				Action:     d.Action,
				Data:       d.CData,
				PageData:   d.PageData,
			},
		}).
		SetResult(&out).
		Post("/createTask")
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		c.cfg.Breaker.RecordFailure()
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if resp.IsError() {
		c.cfg.Breaker.RecordFailure()
		return 0, &APIError{Kind: ErrRejected, Code: fmt.Sprintf("HTTP %d", resp.StatusCode())}
	}

	// The endpoint answered; a refusal is the service's verdict, not an outage.
	c.cfg.Breaker.RecordSuccess()
	if out.ErrorID != 0 {
		return 0, &APIError{Kind: ErrRejected, Code: out.ErrorCode, Description: out.ErrorDescription}
	}
	if out.TaskID == 0 {
		return 0, &APIError{Kind: ErrRejected, Code: "missing taskId"}
	}
	return out.TaskID, nil
}

// poll performs one getTaskResult call. done reports a ready token. Transport
// errors consume the attempt and are not returned.
func (c *Client) poll(ctx context.Context, apiKey string, taskID int64) (sol *Solution, done bool, err error) {
	var out taskResultResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(taskResultRequest{ClientKey: apiKey, TaskID: taskID}).
		SetResult(&out).
		Post("/getTaskResult")
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		c.cfg.Logger.WarnContext(ctx, "solver: poll failed", "task_id", taskID, "error", err)
		return nil, false, nil
	}
	if resp.IsError() {
		c.cfg.Logger.WarnContext(ctx, "solver: poll failed", "task_id", taskID, "status", resp.StatusCode())
		return nil, false, nil
	}

	if out.ErrorID != 0 {
		return nil, false, &APIError{Kind: ErrFailed, Code: out.ErrorCode, Description: out.ErrorDescription}
	}
	switch out.Status {
	case "processing":
		return nil, false, nil
	case "ready":
		if out.Solution == nil || out.Solution.Token == "" {
			return nil, false, &APIError{Kind: ErrFailed, Code: "ready without token"}
		}
		return out.Solution, true, nil
	default:
		return nil, false, &APIError{Kind: ErrFailed, Code: "status " + out.Status}
	}
}

// IsSolverError reports whether err came from the solver flow rather than
// the caller's context.
func IsSolverError(err error) bool {
	var open *ErrCircuitOpen
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrFailed) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrInvalidDescriptor) ||
		errors.As(err, &open)
}
