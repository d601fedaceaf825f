// Package store persists finished searches in SQLite. Writes are batched
// by a background goroutine so recording never slows a search down.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/missingmoney/dbopen"
	"github.com/hazyhaar/missingmoney/idgen"
)

// Search is one finished search.
type Search struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	City      string `json:"city"`
	State     string `json:"state"`

	UseSolver  bool `json:"useSolver"`
	SolverUsed bool `json:"solverUsed"`

	Success    bool    `json:"success"`
	Results    int     `json:"results"`
	Total      float64 `json:"total"`
	Pass       string  `json:"pass,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	Error      string  `json:"error,omitempty"`
	Retryable  bool    `json:"retryable"`
	Attempts   int     `json:"attempts"`
	DurationMs int64   `json:"durationMs"`
}

// Filter controls List results.
type Filter struct {
	Since   *time.Time
	Kind    *string
	Success *bool
	Limit   int // default 50, max 500
	Offset  int
}

// SearchLog records searches asynchronously.
type SearchLog struct {
	db     *sql.DB
	log    *slog.Logger
	newID  idgen.Generator
	ch     chan *Search
	stop   chan struct{}
	done   chan struct{}
	flushN int
	every  time.Duration
}

// Option configures a SearchLog.
type Option func(*SearchLog)

// WithLogger sets the logger for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *SearchLog) { s.log = l }
}

// WithFlushInterval sets how often buffered entries are written. Default: 2s.
func WithFlushInterval(d time.Duration) Option {
	return func(s *SearchLog) { s.every = d }
}

// NewSearchLog creates a search log and starts its flush goroutine.
// Recommended bufferSize: 256.
func NewSearchLog(db *sql.DB, bufferSize int, opts ...Option) *SearchLog {
	s := &SearchLog{
		db:     db,
		log:    slog.Default(),
		newID:  idgen.Prefixed("srch_", idgen.Default),
		ch:     make(chan *Search, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		flushN: 50,
		every:  2 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	go s.flushLoop()
	return s
}

// Log inserts a search synchronously.
func (s *SearchLog) Log(ctx context.Context, e *Search) error {
	s.fillDefaults(e)
	_, err := dbopen.Exec(ctx, s.db, insertSQL, insertArgs(e)...)
	return err
}

// RecordSearch queues e for async persistence. Falls back to a synchronous
// insert when the buffer is full.
func (s *SearchLog) RecordSearch(e *Search) {
	s.fillDefaults(e)
	select {
	case s.ch <- e:
	default:
		s.log.Warn("store: search log buffer full, sync fallback", "search_id", e.ID)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := dbopen.Exec(ctx, s.db, insertSQL, insertArgs(e)...); err != nil {
			s.log.Error("store: sync fallback failed", "error", err)
		}
	}
}

// List returns searches matching f, newest first.
func (s *SearchLog) List(ctx context.Context, f Filter) ([]Search, error) {
	q := `SELECT search_id, timestamp, first_name, last_name, city, state,
		use_solver, solver_used, success, results, total, pass, kind, error,
		retryable, attempts, duration_ms
		FROM searches WHERE 1=1`
	var args []any

	if f.Since != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if f.Kind != nil {
		q += " AND kind = ?"
		args = append(args, *f.Kind)
	}
	if f.Success != nil {
		q += " AND success = ?"
		args = append(args, *f.Success)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)
	if f.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list searches: %w", err)
	}
	defer rows.Close()

	out := []Search{}
	for rows.Next() {
		var e Search
		var ts int64
		var pass, kind, errMsg sql.NullString
		if err := rows.Scan(
			&e.ID, &ts, &e.FirstName, &e.LastName, &e.City, &e.State,
			&e.UseSolver, &e.SolverUsed, &e.Success, &e.Results, &e.Total,
			&pass, &kind, &errMsg, &e.Retryable, &e.Attempts, &e.DurationMs,
		); err != nil {
			return nil, fmt.Errorf("store: scan search: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Pass = pass.String
		e.Kind = kind.String
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// Summary aggregates the log since a point in time.
type Summary struct {
	Searches   int     `json:"searches"`
	Succeeded  int     `json:"succeeded"`
	Retryable  int     `json:"retryable"`
	SolverUsed int     `json:"solverUsed"`
	AvgMs      float64 `json:"avgMs"`
}

// Summarize returns counts over searches since since.
func (s *SearchLog) Summarize(ctx context.Context, since time.Time) (Summary, error) {
	var sum Summary
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(success), 0),
		COALESCE(SUM(retryable), 0),
		COALESCE(SUM(solver_used), 0),
		AVG(duration_ms)
		FROM searches WHERE timestamp >= ?`, since.UnixMilli()).
		Scan(&sum.Searches, &sum.Succeeded, &sum.Retryable, &sum.SolverUsed, &avg)
	if err != nil {
		return Summary{}, fmt.Errorf("store: summarize: %w", err)
	}
	sum.AvgMs = avg.Float64
	return sum, nil
}

// Cleanup deletes searches older than retention.
func (s *SearchLog) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, s.db, "DELETE FROM searches WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (s *SearchLog) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *SearchLog) fillDefaults(e *Search) {
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

func (s *SearchLog) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	batch := make([]*Search, 0, s.flushN)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
			for _, e := range batch {
				if _, err := tx.ExecContext(ctx, insertSQL, insertArgs(e)...); err != nil {
					s.log.Error("store: insert", "error", err, "search_id", e.ID)
				}
			}
			return nil
		})
		if err != nil {
			s.log.Error("store: flush", "error", err, "entries", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-s.stop:
			for {
				select {
				case e := <-s.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-s.ch:
			batch = append(batch, e)
			if len(batch) >= s.flushN {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

const insertSQL = `INSERT OR REPLACE INTO searches
	(search_id, timestamp, first_name, last_name, city, state,
	 use_solver, solver_used, success, results, total, pass, kind, error,
	 retryable, attempts, duration_ms)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func insertArgs(e *Search) []any {
	return []any{
		e.ID, e.Timestamp.UnixMilli(), e.FirstName, e.LastName, e.City, e.State,
		e.UseSolver, e.SolverUsed, e.Success, e.Results, e.Total,
		nullable(e.Pass), nullable(e.Kind), nullable(e.Error),
		e.Retryable, e.Attempts, e.DurationMs,
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
