package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/missingmoney/dbopen"
	"github.com/hazyhaar/missingmoney/missingmoney"
	"github.com/hazyhaar/missingmoney/missingmoney/api"
	"github.com/hazyhaar/missingmoney/shield"
	"github.com/hazyhaar/missingmoney/store"
)

var version = "dev"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--config <file.yaml>]",
	Short: "Serves the search API, the search log and the MCP endpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := missingmoney.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := dbopen.Open(cfg.Server.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema),
		dbopen.WithSchema(shield.Schema))
	if err != nil {
		return err
	}
	defer db.Close()

	searchLog := store.NewSearchLog(db, 256, store.WithLogger(logger))
	defer searchLog.Close()

	rl := shield.NewRateLimiter(db, logger, "/health")
	if err := rl.SetRule(ctx, "POST /api/search-missing-money", shield.RateLimitConfig{
		MaxRequests:   cfg.Server.SearchRateLimit,
		WindowSeconds: 60,
		Enabled:       true,
	}); err != nil {
		return err
	}
	rl.StartReloader(ctx.Done())

	svc, err := missingmoney.Open(cfg, searchLog, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	go pruneSearches(ctx, searchLog, cfg.Server.SearchRetention)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(api.Config{
			Searcher:       svc,
			SearchLog:      searchLog,
			ListSearches:   cfg.Server.ExposeSearches,
			RateLimiter:    rl,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Version:        version,
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// A search may queue for a slot and then run to its own deadline.
		WriteTimeout: cfg.Slots.QueueTimeout + cfg.Search.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server started",
			"port", cfg.Server.Port,
			"max_concurrent", cfg.Slots.MaxConcurrent,
			"target_url", cfg.Search.TargetURL,
			"headful", cfg.Browser.Headful())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// pruneSearches deletes log entries older than retention once a day.
func pruneSearches(ctx context.Context, l *store.SearchLog, retention time.Duration) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := l.Cleanup(ctx, retention)
		if err != nil {
			logger.Warn("search log cleanup", "error", err)
		} else if n > 0 {
			logger.Info("search log pruned", "deleted", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
