// Package api exposes the search service over HTTP: the search endpoint,
// slot and health reporting, the search log, and the MCP endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/missingmoney/kit"
	"github.com/hazyhaar/missingmoney/missingmoney"
	"github.com/hazyhaar/missingmoney/shield"
	"github.com/hazyhaar/missingmoney/store"
)

// Searcher runs searches and reports capacity. *missingmoney.Service
// implements it.
type Searcher interface {
	Search(ctx context.Context, req missingmoney.Request) *missingmoney.Outcome
	Health(ctx context.Context) missingmoney.Health
}

// SearchLog is the read side of the search log.
type SearchLog interface {
	List(ctx context.Context, f store.Filter) ([]store.Search, error)
	Summarize(ctx context.Context, since time.Time) (store.Summary, error)
}

// Config wires the router. Searcher is required.
type Config struct {
	Searcher Searcher
	// SearchLog enables /api/searches/summary when set.
	SearchLog SearchLog
	// ListSearches also serves /api/searches, which returns searched
	// names and cities. Requires SearchLog.
	ListSearches bool
	// RateLimiter is applied after tracing when set.
	RateLimiter *shield.RateLimiter
	// AllowedOrigins enables CORS for these origins. Empty disables CORS.
	AllowedOrigins []string
	Version        string
	Logger         *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

type handler struct {
	cfg      Config
	validate *validator.Validate
	search   kit.Endpoint
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	cfg.defaults()
	h := &handler{cfg: cfg, validate: newValidator()}
	h.search = searchEndpoint(cfg.Searcher, cfg.Logger)

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Accept", "Mcp-Session-Id"},
			ExposedHeaders: []string{"X-Trace-ID", "Retry-After"},
			MaxAge:         300,
		}))
	}
	for _, mw := range shield.DefaultStack(cfg.Logger, cfg.RateLimiter) {
		r.Use(mw)
	}

	r.Get("/health", h.health)
	r.Post("/api/search-missing-money", h.searchHandler)
	r.Get("/api/slots", h.slots)
	if cfg.SearchLog != nil {
		r.Get("/api/searches/summary", h.summary)
		if cfg.ListSearches {
			r.Get("/api/searches", h.listSearches)
		}
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "missingmoney", Version: cfg.Version}, nil)
	RegisterMCP(mcpSrv, cfg.Searcher, cfg.Logger)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	return r
}

// searchEndpoint adapts a Searcher to a kit.Endpoint taking *Request.
func searchEndpoint(s Searcher, logger *slog.Logger) kit.Endpoint {
	base := func(ctx context.Context, req any) (any, error) {
		return s.Search(ctx, *req.(*missingmoney.Request)), nil
	}
	return kit.Chain(kit.Logging(logger, "search"))(base)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// required alone accepts "   ".
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage turns validator errors into one sentence naming the
// missing JSON fields.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request."
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return "Missing required fields: " + strings.Join(fields, ", ") + "."
}

func (h *handler) searchHandler(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var req missingmoney.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("api: malformed search body", "error", err)
		shield.WriteJSONError(w, http.StatusInternalServerError, "Could not read the search request.", false)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		shield.WriteJSONError(w, http.StatusBadRequest, validationMessage(err), false)
		return
	}

	ctx := kit.WithTransport(r.Context(), "http")
	resp, err := h.search(ctx, &req)
	if err != nil {
		log.Error("api: search endpoint", "error", err)
		shield.WriteJSONError(w, http.StatusInternalServerError, "Internal server error.", false)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) slots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Searcher.Health(r.Context()).Slots)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	hl := h.cfg.Searcher.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  hl.Status,
		"version": h.cfg.Version,
		"slots":   hl.Slots,
		"memory":  hl.Memory,
		"solver":  hl.Solver,
	})
}

func (h *handler) listSearches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if s := q.Get("since"); s != "" {
		t, err := parseSince(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		f.Since = &t
	}
	if k := q.Get("kind"); k != "" {
		f.Kind = &k
	}
	if s := q.Get("success"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("success must be true or false"))
			return
		}
		f.Success = &b
	}

	list, err := h.cfg.SearchLog.List(r.Context(), f)
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: list searches", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not list searches"))
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := parseSince(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = t
	}
	sum, err := h.cfg.SearchLog.Summarize(r.Context(), since)
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: summarize searches", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("could not summarize searches"))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// parseSince accepts an RFC 3339 time or a lookback duration such as "24h".
func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.New("since must be RFC 3339 or a duration like 24h")
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
