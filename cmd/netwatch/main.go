// Command netwatch runs collection sessions for every configured target on
// an interval and serves health/stats endpoints. Targets without a
// site-specific plugin use a generic JSON-array hook that lifts records out
// of common list envelopes.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/netwatch/collect"
	"github.com/hazyhaar/netwatch/dbopen"
	"github.com/hazyhaar/netwatch/feed"
	"github.com/hazyhaar/netwatch/netbus"
	"github.com/hazyhaar/netwatch/record"
	"github.com/hazyhaar/netwatch/snapstore"
)

func main() {
	port := env("PORT", "8086")
	cfgPath := env("CONFIG", "netwatch.yaml")
	dbPath := env("SNAPSHOT_DB", "db/snapshots.db")
	logLevel := env("LOG_LEVEL", "info")
	interval := envDuration("RUN_INTERVAL", 15*time.Minute)
	listKeys := strings.Split(env("LIST_KEYS", "items,data,list,records"), ",")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := feed.LoadConfigFile(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll(), dbopen.WithSchema(snapstore.Schema))
	if err != nil {
		slog.Error("snapshot db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	registry := netbus.NewRegistry(logger)
	defer registry.CloseAll()

	// One snapshot collection per target so deletion candidates never leak
	// across targets sharing the database file.
	storeFor := func(t feed.TargetConfig) snapstore.Store {
		fpKey := t.Sync.FingerprintKey
		if fpKey == "" {
			fpKey = "__fp"
		}
		return snapstore.NewSQLite(db, snapstore.SQLiteOptions{
			Collection:     t.ID,
			FingerprintKey: fpKey,
		})
	}

	hooks := make(map[string]collect.Hooks, len(cfg.Targets))
	for _, t := range cfg.Targets {
		hooks[t.ID] = &listHooks{keys: listKeys}
	}

	state := &runState{}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, state.stats(registry.Len(), len(cfg.Targets)))
	})
	r.Get("/results", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, state.results())
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go runLoop(ctx, cfg, feed.Options{
		StoreFor: storeFor,
		Hooks:    hooks,
		Registry: registry,
		Logger:   logger,
	}, state, interval)

	<-ctx.Done()
	slog.Info("shutting down")
	registry.CloseAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// runLoop runs the feed on the interval until the context ends. A fresh Feed
// (and browser) per cycle keeps long-running Chrome memory growth in check.
func runLoop(ctx context.Context, cfg *feed.Config, opts feed.Options, state *runState, interval time.Duration) {
	for {
		f, err := feed.New(cfg, opts)
		if err != nil {
			slog.Error("build feed", "error", err)
			state.record(nil, err)
		} else {
			results, err := f.Run(ctx)
			if err != nil && ctx.Err() == nil {
				slog.Error("run feed", "error", err)
			}
			state.record(results, err)
		}

		if interval <= 0 {
			slog.Info("single run finished, waiting for shutdown")
			return
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}

// runState is what /stats and /results expose.
type runState struct {
	mu          sync.Mutex
	runs        int
	lastRun     time.Time
	lastResults []feed.Result
	lastErr     string
}

func (s *runState) record(results []feed.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs++
	s.lastRun = time.Now()
	s.lastResults = results
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

func (s *runState) stats(bindings, targets int) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"runs":       s.runs,
		"last_run":   s.lastRun,
		"last_error": s.lastErr,
		"bindings":   bindings,
		"targets":    targets,
	}
}

func (s *runState) results() []feed.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResults
}

// listHooks is the generic payload plugin: it records JSON views and lifts
// records out of the first top-level list envelope it recognizes
// ({"items": [...]}, {"data": [...]}, ...), or a bare top-level array.
type listHooks struct {
	collect.NopHooks
	keys []string
}

func (h *listHooks) ShouldRecord(v *netbus.View) bool { return v.IsJSON() }

func (h *listHooks) ParseItems(v *netbus.View) []record.Record {
	data, ok := v.JSON()
	if !ok {
		return nil
	}

	var list []any
	switch t := data.(type) {
	case []any:
		list = t
	case map[string]any:
		for _, key := range h.keys {
			if arr, ok := t[strings.TrimSpace(key)].([]any); ok {
				list = arr
				break
			}
		}
	}

	var out []record.Record
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, record.Record(m))
		}
	}
	return out
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return def
	}
	return d
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
