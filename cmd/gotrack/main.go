package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/gotrack/internal/api"
	"github.com/odvcencio/gotrack/internal/config"
	"github.com/odvcencio/gotrack/internal/database"
	"github.com/odvcencio/gotrack/internal/jobs"
	"github.com/odvcencio/gotrack/internal/service"
	"github.com/odvcencio/gotrack/internal/signals"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: gotrack <command>\n\nCommands:\n  serve    Start workers and the ops server\n  migrate  Run database migrations\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "migrate":
		cmdMigrate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	traceShutdown, err := initTracing(context.Background())
	if err != nil {
		slog.Error("init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traceShutdown(ctx); err != nil {
			slog.Error("shutdown tracing", "error", err)
		}
	}()

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Auto-migrate on startup
	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg, db, prometheus.DefaultRegisterer); err != nil {
		slog.Error("serve", "error", err)
		os.Exit(1)
	}
}

func cmdMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	db, err := openDB(cfg)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(context.Background()); err != nil {
		slog.Error("migrate", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations complete")
}

func setupLogging(cfg *config.Config) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()})))
}

func openDB(cfg *config.Config) (database.DB, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return database.OpenSQLite(cfg.Database.DSN)
	case "postgres":
		return database.OpenPostgres(cfg.Database.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// app is the wired process: writes go through store so that registered
// receivers fire, while the ops server reads stats from the raw database.
type app struct {
	store      database.DB
	dispatcher *signals.Dispatcher
	queue      *jobs.Queue
	router     *jobs.Router
	pool       *jobs.WorkerPool
	server     *api.Server
}

func newApp(cfg *config.Config, db database.DB, reg prometheus.Registerer) *app {
	logger := slog.Default()

	queue := jobs.NewQueue(db, jobs.QueueOptions{
		RetryDelay:  cfg.Jobs.RetryDelay,
		MaxAttempts: cfg.Jobs.MaxAttempts,
	})

	dispatcher := signals.NewDispatcher(logger, reg)
	store := database.WithSignals(db, dispatcher)
	service.NewReceivers(store, queue, service.Options{
		Logger:     logger,
		Registerer: reg,
		SweepDelay: cfg.Jobs.SweepDelay,
	}).Register(dispatcher)

	router := jobs.NewRouter()
	router.Handle(service.TaskClearExpiredResolutions, service.NewResolutionService(store, logger).ProcessJob)

	a := &app{
		store:      store,
		dispatcher: dispatcher,
		queue:      queue,
		router:     router,
	}
	if cfg.Jobs.Workers > 0 {
		a.pool = jobs.NewWorkerPool(queue, router.Process, jobs.WorkerPoolOptions{
			Workers:      cfg.Jobs.Workers,
			PollInterval: cfg.Jobs.PollInterval,
			Logger:       logger,
			Registerer:   reg,
		})
	}

	gatherer, _ := reg.(prometheus.Gatherer)
	a.server = api.NewServer(db, api.ServerOptions{
		AdminAllowedCIDRs: cfg.Server.AdminCIDRs,
		TrustedProxyCIDRs: cfg.Server.TrustedProxies,
		EnablePprof:       cfg.Server.EnablePprof,
		Dispatcher:        dispatcher,
		Tasks:             router.Tasks(),
		Workers:           cfg.Jobs.Workers,
		Registerer:        reg,
		Gatherer:          gatherer,
		Logger:            logger,
	})
	return a
}

func serve(ctx context.Context, cfg *config.Config, db database.DB, reg prometheus.Registerer) error {
	a := newApp(cfg, db, reg)

	if a.pool != nil {
		if err := a.pool.Start(ctx); err != nil {
			return fmt.Errorf("start worker pool: %w", err)
		}
	} else {
		slog.Warn("job workers disabled; queued jobs will not run in this process")
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      a.server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("gotrack listening", "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-listenErr:
		if ok {
			runErr = fmt.Errorf("listen: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown http server", "error", err)
	}
	if a.pool != nil {
		if err := a.pool.Stop(shutdownCtx); err != nil {
			slog.Error("stop worker pool", "error", err)
		}
	}
	return runErr
}
