package solver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDescriptor = Descriptor{
	SiteKey:  "0x4AAAAAAA-test",
	PageURL:  "https://example.test/claim-search",
	Action:   "search",
	CData:    "cdata-1",
	PageData: "chl-page-data",
}

// fakeSolver serves createTask and getTaskResult. results is consumed one
// entry per poll; the last entry repeats.
type fakeSolver struct {
	create  func(w http.ResponseWriter, body map[string]any)
	results []string
	polls   atomic.Int32
}

func (f *fakeSolver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/createTask":
		if f.create != nil {
			f.create(w, body)
			return
		}
		io.WriteString(w, `{"errorId":0,"taskId":4242}`)
	case "/getTaskResult":
		n := int(f.polls.Add(1)) - 1
		if n >= len(f.results) {
			n = len(f.results) - 1
		}
		io.WriteString(w, f.results[n])
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, h http.Handler, opts ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := Config{
		BaseURL:      srv.URL,
		PollInterval: time.Millisecond,
		MaxAttempts:  5,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return New(cfg)
}

func TestSolve_ReadyAfterProcessing(t *testing.T) {
	var submitted map[string]any
	fake := &fakeSolver{
		create: func(w http.ResponseWriter, body map[string]any) {
			submitted = body
			io.WriteString(w, `{"errorId":0,"taskId":7}`)
		},
		results: []string{
			`{"errorId":0,"status":"processing"}`,
			`{"errorId":0,"status":"processing"}`,
			`{"errorId":0,"status":"ready","solution":{"token":"0.proof-token-abcdef","userAgent":"UA/1"}}`,
		},
	}
	c := newTestClient(t, fake)

	sol, err := c.Solve(context.Background(), "key-1", testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "0.proof-token-abcdef", sol.Token)
	assert.Equal(t, "UA/1", sol.UserAgent)
	assert.EqualValues(t, 3, fake.polls.Load())

	require.NotNil(t, submitted)
	assert.Equal(t, "key-1", submitted["clientKey"])
	task := submitted["task"].(map[string]any)
	assert.Equal(t, TaskType, task["type"])
	assert.Equal(t, testDescriptor.PageURL, task["websiteURL"])
	assert.Equal(t, testDescriptor.SiteKey, task["websiteKey"])
	assert.Equal(t, "search", task["action"])
	assert.Equal(t, "cdata-1", task["data"])
	assert.Equal(t, "chl-page-data", task["pagedata"])
}

func TestSolve_Rejected(t *testing.T) {
	fake := &fakeSolver{
		create: func(w http.ResponseWriter, _ map[string]any) {
			io.WriteString(w, `{"errorId":1,"errorCode":"ERROR_KEY_DOES_NOT_EXIST","errorDescription":"bad key"}`)
		},
	}
	c := newTestClient(t, fake)

	_, err := c.Solve(context.Background(), "nope", testDescriptor)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ERROR_KEY_DOES_NOT_EXIST", apiErr.Code)
	assert.Zero(t, fake.polls.Load(), "rejected submission must not be polled")
}

func TestSolve_TerminalStatusNotRetried(t *testing.T) {
	fake := &fakeSolver{results: []string{
		`{"errorId":0,"status":"processing"}`,
		`{"errorId":0,"status":"failed"}`,
		`{"errorId":0,"status":"ready","solution":{"token":"never-reached"}}`,
	}}
	c := newTestClient(t, fake)

	_, err := c.Solve(context.Background(), "k", testDescriptor)
	assert.True(t, errors.Is(err, ErrFailed), "err = %v", err)
	assert.EqualValues(t, 2, fake.polls.Load())
}

func TestSolve_ErrorIDOnPoll(t *testing.T) {
	fake := &fakeSolver{results: []string{
		`{"errorId":12,"errorCode":"ERROR_CAPTCHA_UNSOLVABLE"}`,
	}}
	c := newTestClient(t, fake)

	_, err := c.Solve(context.Background(), "k", testDescriptor)
	assert.True(t, errors.Is(err, ErrFailed))
}

func TestSolve_PollingBudget(t *testing.T) {
	fake := &fakeSolver{results: []string{`{"errorId":0,"status":"processing"}`}}
	c := newTestClient(t, fake, func(c *Config) { c.MaxAttempts = 4 })

	_, err := c.Solve(context.Background(), "k", testDescriptor)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.EqualValues(t, 4, fake.polls.Load())
}

func TestSolve_PollTransportErrorConsumesAttempt(t *testing.T) {
	var polls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/createTask" {
			io.WriteString(w, `{"errorId":0,"taskId":1}`)
			return
		}
		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"errorId":0,"status":"ready","solution":{"token":"tok-after-retry"}}`)
	})
	c := newTestClient(t, h)

	sol, err := c.Solve(context.Background(), "k", testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "tok-after-retry", sol.Token)
	assert.EqualValues(t, 2, polls.Load())
}

func TestSolve_InvalidDescriptor(t *testing.T) {
	c := newTestClient(t, &fakeSolver{})
	_, err := c.Solve(context.Background(), "k", Descriptor{PageURL: "https://x.test"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestSolve_ContextCancelled(t *testing.T) {
	fake := &fakeSolver{results: []string{`{"errorId":0,"status":"processing"}`}}
	c := newTestClient(t, fake, func(c *Config) {
		c.PollInterval = time.Second
		c.MaxAttempts = 40
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Solve(ctx, "k", testDescriptor)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSolve_BreakerOpensOnSubmissionFailures(t *testing.T) {
	var creates atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creates.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	br := NewBreaker(WithBreakerThreshold(2), WithBreakerResetTimeout(time.Hour))
	c := newTestClient(t, h, func(c *Config) { c.Breaker = br })

	for i := 0; i < 2; i++ {
		_, err := c.Solve(context.Background(), "k", testDescriptor)
		assert.ErrorIs(t, err, ErrRejected)
	}
	assert.Equal(t, BreakerOpen, br.State())

	_, err := c.Solve(context.Background(), "k", testDescriptor)
	var open *ErrCircuitOpen
	assert.True(t, errors.As(err, &open), "err = %v", err)
	assert.EqualValues(t, 2, creates.Load(), "open breaker must not contact the service")
	assert.True(t, IsSolverError(err))
}

func TestKeyed_BindsKey(t *testing.T) {
	var key string
	fake := &fakeSolver{
		create: func(w http.ResponseWriter, body map[string]any) {
			key, _ = body["clientKey"].(string)
			io.WriteString(w, `{"errorId":0,"taskId":9}`)
		},
		results: []string{`{"errorId":0,"status":"ready","solution":{"token":"tok-keyed-123"}}`},
	}
	c := newTestClient(t, fake)

	sol, err := c.ForKey("bound-key").Solve(context.Background(), testDescriptor)
	require.NoError(t, err)
	assert.Equal(t, "bound-key", key)
	assert.Equal(t, "tok-keyed-123", sol.Token)
}
