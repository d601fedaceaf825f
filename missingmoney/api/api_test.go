package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/missingmoney/dbopen"
	"github.com/hazyhaar/missingmoney/missingmoney"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver"
	"github.com/hazyhaar/missingmoney/missingmoney/internal/driver/drivertest"
	"github.com/hazyhaar/missingmoney/shield"
	"github.com/hazyhaar/missingmoney/slots"
	"github.com/hazyhaar/missingmoney/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSearcher struct {
	mu    sync.Mutex
	reqs  []missingmoney.Request
	out   *missingmoney.Outcome
	panic bool
}

func (f *fakeSearcher) Search(_ context.Context, req missingmoney.Request) *missingmoney.Outcome {
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.out != nil {
		return f.out
	}
	return &missingmoney.Outcome{Success: true, Results: []missingmoney.Record{}, Message: "No unclaimed property found for this name."}
}

func (f *fakeSearcher) Health(context.Context) missingmoney.Health {
	return missingmoney.Health{Status: "ok", Slots: slots.Stats{Capacity: 3, Active: 1}}
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/search-missing-money", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

const validBody = `{"firstName":"Ben","lastName":"Smith","city":"Austin","state":"TX","use2Captcha":true,"captchaApiKey":"k"}`

func TestSearch_OK(t *testing.T) {
	s := &fakeSearcher{}
	h := NewRouter(Config{Searcher: s, Logger: quiet})

	rec := post(t, h, validBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
	assert.Equal(t, true, decode(t, rec)["success"])

	require.Len(t, s.reqs, 1)
	assert.Equal(t, "Ben", s.reqs[0].FirstName)
	assert.True(t, s.reqs[0].UseSolver)
	assert.Equal(t, "k", s.reqs[0].SolverAPIKey)
}

func TestSearch_FailureIsStill200(t *testing.T) {
	s := &fakeSearcher{out: &missingmoney.Outcome{
		Results:   []missingmoney.Record{},
		Error:     "Server is busy. Please try again in a few minutes.",
		Retryable: true,
		Kind:      missingmoney.KindQueueTimeout,
	}}
	rec := post(t, NewRouter(Config{Searcher: s, Logger: quiet}), validBody)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, "queue_timeout", body["kind"])
}

func TestSearch_MissingFields(t *testing.T) {
	s := &fakeSearcher{}
	rec := post(t, NewRouter(Config{Searcher: s, Logger: quiet}), `{"firstName":"Ben","state":"TX"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Missing required fields: lastName, city.", body["error"])
	assert.Empty(t, s.reqs)
}

func TestSearch_BlankFieldsAreMissing(t *testing.T) {
	s := &fakeSearcher{}
	rec := post(t, NewRouter(Config{Searcher: s, Logger: quiet}),
		`{"firstName":"   ","lastName":"Smith","city":"Austin","state":"\t"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields: firstName, state.", decode(t, rec)["error"])
	assert.Empty(t, s.reqs)
}

func TestSearch_MalformedJSON(t *testing.T) {
	s := &fakeSearcher{}
	rec := post(t, NewRouter(Config{Searcher: s, Logger: quiet}), `{"firstName":`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
	assert.Empty(t, s.reqs)
}

func TestSearch_PanicIs500(t *testing.T) {
	rec := post(t, NewRouter(Config{Searcher: &fakeSearcher{panic: true}, Logger: quiet}), validBody)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error.", decode(t, rec)["error"])
}

func TestSearch_RateLimited(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(shield.Schema))
	rl := shield.NewRateLimiter(db, quiet)
	require.NoError(t, rl.SetRule(context.Background(), "POST /api/search-missing-money",
		shield.RateLimitConfig{MaxRequests: 1, WindowSeconds: 60, Enabled: true}))
	h := NewRouter(Config{Searcher: &fakeSearcher{}, RateLimiter: rl, Logger: quiet})

	assert.Equal(t, http.StatusOK, post(t, h, validBody).Code)
	rec := post(t, h, validBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	h := NewRouter(Config{Searcher: &fakeSearcher{}, AllowedOrigins: []string{"https://app.example.com"}, Logger: quiet})

	req := httptest.NewRequest(http.MethodOptions, "/api/search-missing-money", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSlotsAndHealth(t *testing.T) {
	h := NewRouter(Config{Searcher: &fakeSearcher{}, Logger: quiet, Version: "1.2.3"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/slots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 3, body["capacity"])
	assert.EqualValues(t, 1, body["active"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSearches(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	log := store.NewSearchLog(db, 8, store.WithLogger(quiet))
	t.Cleanup(func() { log.Close() })
	ctx := context.Background()
	require.NoError(t, log.Log(ctx, &store.Search{ID: "srch_a", FirstName: "Ben", LastName: "Smith", Success: true, Results: 2, DurationMs: 100}))
	require.NoError(t, log.Log(ctx, &store.Search{ID: "srch_b", FirstName: "Ana", LastName: "Lopez", Kind: "queue_timeout", Retryable: true, DurationMs: 300}))

	h := NewRouter(Config{Searcher: &fakeSearcher{}, SearchLog: log, ListSearches: true, Logger: quiet})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches?kind=queue_timeout", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Search
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "srch_b", list[0].ID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches?success=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches/summary?since=1h", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sum store.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Searches)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 200.0, sum.AvgMs)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2h")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), got, time.Second)

	got, err = parseSince("2026-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

// TestSearch_EndToEnd drives the real orchestrator against the fake site.
func TestSearch_EndToEnd(t *testing.T) {
	const resultsHTML = `<html><body><table>
<tr><td>John Doe</td><td></td><td></td><td>Acme Bank</td><td>...</td><td>TX</td><td>78701</td><td></td><td>OVER $500</td></tr>
</table></body></html>`

	svc, err := missingmoney.New(missingmoney.Options{
		Slots:    slots.New(slots.Config{Capacity: 1, Logger: quiet}),
		Launcher: &drivertest.Launcher{Site: drivertest.Site{ResultsHTML: resultsHTML}},
		Driver: driver.New(driver.Config{
			TargetURL:         "https://claims.test/app/claim-search",
			NavigationTimeout: 50 * time.Millisecond,
			GracePeriod:       20 * time.Millisecond,
			ResultsWait:       20 * time.Millisecond,
			IdleWait:          10 * time.Millisecond,
			ChallengeClear:    10 * time.Millisecond,
			ChangeCheck:       10 * time.Millisecond,
			RecheckAttempts:   2,
			RecheckInterval:   time.Millisecond,
			PollInterval:      time.Millisecond,
			TypeDelay:         time.Millisecond,
			Logger:            quiet,
		}),
		Logger: quiet,
	})
	require.NoError(t, err)

	rec := post(t, NewRouter(Config{Searcher: svc, Logger: quiet}),
		`{"firstName":"John","lastName":"Doe","city":"Austin","state":"TX"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out missingmoney.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success, rec.Body.String())
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Acme Bank", out.Results[0].Entity)
	assert.Equal(t, 500.0, out.TotalAmount)
}

func TestMCP_Search(t *testing.T) {
	s := &fakeSearcher{}
	impl := &mcp.Implementation{Name: "missingmoney-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCP(srv, s, quiet)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "missingmoney_search",
		Arguments: map[string]any{"firstName": "Ben", "lastName": "Smith", "city": "Austin", "state": "TX"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	var out missingmoney.Outcome
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &out))
	assert.True(t, out.Success)
	require.Len(t, s.reqs, 1)
	assert.Equal(t, "Smith", s.reqs[0].LastName)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "missingmoney_search",
		Arguments: map[string]any{"firstName": "Ben"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "missingmoney_slots", Arguments: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, `"capacity":3`)
}

func TestSearches_ListOffByDefault(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	log := store.NewSearchLog(db, 8, store.WithLogger(quiet))
	t.Cleanup(func() { log.Close() })
	require.NoError(t, log.Log(context.Background(), &store.Search{ID: "srch_a", FirstName: "Ben", LastName: "Smith", Success: true}))

	h := NewRouter(Config{Searcher: &fakeSearcher{}, SearchLog: log, Logger: quiet})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Smith")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/searches/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
