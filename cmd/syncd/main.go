package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/coder/retry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/adapters"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/config"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/database"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/esync"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/store"
	"github.com/OrbitalEnterprises/evekit-sync-sub007/internal/throttle"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.Make(sloghuman.Sink(os.Stderr)).Leveled(slog.LevelInfo)

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	clock := quartz.NewReal()
	backend := store.NewPostgres(postgresPool)
	th := throttle.New(cfg.CallsPerSecond, throttle.NewRedisBudget(redisClient), clock, logger)
	client := adapters.NewClient(cfg.ProviderBaseURL, th, clock, logger)
	syncer := esync.New(backend, logger, esync.Options{
		DefaultDelay: cfg.DefaultSyncDelay,
		StaleAfter:   cfg.StaleAttemptAge,
		Clock:        clock,
	})

	go runScheduler(ctx, logger, backend, syncer, adapters.All(client), cfg.SyncInterval, cfg.WorkerLimit)

	// Initialize HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Last tracker per endpoint: state, detail, and next scheduled run.
	router.Get("/status/{accountID}", func(w http.ResponseWriter, r *http.Request) {
		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			http.Error(w, "invalid account id", http.StatusBadRequest)
			return
		}
		trackers, err := backend.Trackers(r.Context(), accountID)
		if err != nil {
			logger.Error(r.Context(), "failed to load trackers", slog.Error(err))
			http.Error(w, "failed to load trackers", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(trackers)
	})

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info(ctx, "shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "starting syncd", slog.F("port", cfg.ServerPort))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// runScheduler repeatedly enumerates every (account, endpoint) unit of
// work and attempts each one under a bounded worker pool. A failing
// pass backs off; a clean pass waits out the sync interval.
func runScheduler(ctx context.Context, logger slog.Logger, backend esync.Backend, syncer *esync.Synchronizer, ads []esync.Adapter, interval time.Duration, workers int) {
	logger = logger.Named("scheduler")
	r := retry.New(time.Second, 5*time.Minute)
	for {
		if err := runPass(ctx, logger, backend, syncer, ads, workers); err != nil {
			logger.Error(ctx, "sync pass failed", slog.Error(err))
			if !r.Wait(ctx) {
				return
			}
			continue
		}
		r.Reset()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func runPass(ctx context.Context, logger slog.Logger, backend esync.Backend, syncer *esync.Synchronizer, ads []esync.Adapter, workers int) error {
	accounts, err := backend.Accounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, acct := range accounts {
		for _, ad := range ads {
			g.Go(func() error {
				outcome, err := syncer.AttemptSync(ctx, acct, ad)
				if err != nil {
					// ERROR outcomes retry on a later pass; nothing was
					// persisted for this attempt.
					logger.Warn(ctx, "sync attempt errored",
						slog.F("account", acct.ID),
						slog.F("endpoint", ad.Endpoint()),
						slog.F("outcome", outcome.String()),
						slog.Error(err),
					)
				}
				return nil
			})
		}
	}
	return g.Wait()
}
