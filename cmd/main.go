package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertasolimandonofreo/lol-pipeline/internal"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	mode := flag.String("mode", string(internal.ModeFull), "run mode: full, transform or load")
	serve := flag.Bool("serve", false, "run on a schedule and expose the ops HTTP server")
	check := flag.Bool("check", false, "print the stored row count and top 5 players, then exit")
	flag.Parse()

	os.Exit(run(*configPath, *mode, *serve, *check))
}

type app struct {
	cfg      *internal.Config
	logger   *internal.Logger
	metrics  *internal.Metrics
	pipeline *internal.Pipeline
	loader   *internal.Loader
	cache    *internal.CacheManager
	nats     *internal.NATSClient
}

func run(configPath, modeFlag string, serve, check bool) int {
	mode, err := internal.ParseRunMode(modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := internal.ReadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, closer, err := internal.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if a.nats != nil {
		defer a.nats.Close()
	}
	if err != nil {
		return 1
	}

	switch {
	case check:
		return a.check(ctx)
	case serve:
		return a.serve(ctx, mode)
	}

	res := a.pipeline.Run(ctx, mode)
	if !res.Succeeded() {
		return 1
	}
	return 0
}

func buildApp(ctx context.Context, cfg *internal.Config, logger *internal.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: internal.NewMetrics()}

	notifiers := internal.MultiNotifier{internal.NewSlackNotifier(cfg, logger)}
	if cfg.NATSEnabled {
		nc, err := internal.NewNATSClient(cfg, logger)
		if err != nil {
			logger.Warn("nats_connect_failed").
				Component("main").
				Operation("build").
				Err(err).
				Log()
		} else {
			a.nats = nc
			notifiers = append(notifiers, internal.NewNATSNotifier(nc, cfg.AlertSubject))
		}
	}

	loader, err := internal.NewLoader(cfg, logger)
	if err != nil {
		logger.Error("loader_init_failed").
			Component("main").
			Operation("build").
			Err(err).
			Log()
		if nerr := notifiers.Notify(ctx, fmt.Sprintf("Pipeline cannot start: %v", err), internal.SeverityCritical); nerr != nil {
			logger.Warn("notification_failed").
				Component("main").
				Operation("build").
				Err(nerr).
				Log()
		}
		return a, err
	}
	loader.SetMetrics(a.metrics)
	a.loader = loader

	var limiter internal.RateLimiterInterface = internal.NewLocalRateLimiter()
	if cfg.CacheEnabled {
		limiter = internal.NewRateLimiter(cfg, logger)
		a.cache = internal.NewCacheManager(cfg)
	}

	riot := internal.NewRiotAPIClient(cfg, limiter, logger)
	riot.SetMetrics(a.metrics)

	deps := internal.PipelineDeps{
		Extractor: riot,
		Store:     loader,
		Notifier:  notifiers,
		Metrics:   a.metrics,
	}
	if a.cache != nil {
		deps.Snapshots = a.cache
	}
	a.pipeline = internal.NewPipeline(cfg, logger, deps)
	return a, nil
}

func (a *app) check(ctx context.Context) int {
	count, err := a.loader.Count(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return 1
	}
	top, err := a.loader.Top(ctx, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check: %v\n", err)
		return 1
	}

	fmt.Printf("%s (%s): %d rows\n", a.cfg.TargetTable, a.loader.Strategy(), count)
	for i, p := range top {
		fmt.Printf("%d. %-24s lp=%-5d wins=%-4d losses=%-4d win_rate=%.2f\n",
			i+1, p.PlayerName, p.LP, p.Wins, p.Losses, p.WinRate)
	}
	return 0
}

// serve runs the pipeline every ScheduleInterval. With NATS the ticker only
// publishes run tasks and a queue worker executes them; without it the
// ticker runs the pipeline inline.
func (a *app) serve(ctx context.Context, mode internal.RunMode) int {
	if err := a.cfg.Validate(); err != nil {
		a.logger.Error("invalid_config").
			Component("main").
			Operation("serve").
			Err(err).
			Log()
		return 1
	}

	var trigger internal.RunTrigger
	if a.nats == nil {
		trigger = a.localTrigger(ctx)
	} else {
		sub, err := a.nats.StartRunWorker(ctx, a.cfg.RunSubject, func(ctx context.Context, task internal.PipelineRunTask) {
			a.pipeline.RunWithID(ctx, task.RunID, task.Mode)
		})
		if err != nil {
			a.logger.Error("run_worker_failed").
				Component("main").
				Operation("serve").
				Err(err).
				Log()
			return 1
		}
		defer sub.Unsubscribe()
		trigger = func(_ context.Context, mode internal.RunMode) (string, error) {
			task := internal.NewPipelineRunTask(mode, a.cfg.RiotRegion)
			return task.RunID, a.nats.PublishRunTask(a.cfg.RunSubject, task)
		}
	}

	routerDeps := internal.RouterDeps{
		Runs:    a.pipeline,
		Store:   a.loader,
		Trigger: trigger,
		Metrics: a.metrics,
		Region:  a.cfg.RiotRegion,
		Logger:  a.logger,
	}
	if a.cache != nil {
		routerDeps.Snapshots = a.cache
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.AppPort,
		Handler:           internal.NewRouter(routerDeps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("server_started").
			Component("main").
			Operation("serve").
			Meta("port", a.cfg.AppPort).
			Meta("schedule_interval", a.cfg.ScheduleInterval.String()).
			Log()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("server_failed").
				Component("main").
				Operation("serve").
				Err(err).
				Log()
		}
	}()

	a.schedule(ctx, mode, trigger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server_shutdown_failed").
			Component("main").
			Operation("serve").
			Err(err).
			Log()
		return 1
	}
	return 0
}

// localTrigger runs pipelines one at a time on a single goroutine.
func (a *app) localTrigger(ctx context.Context) internal.RunTrigger {
	queue := make(chan internal.PipelineRunTask, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-queue:
				a.pipeline.RunWithID(ctx, task.RunID, task.Mode)
			}
		}
	}()
	return func(_ context.Context, mode internal.RunMode) (string, error) {
		task := internal.NewPipelineRunTask(mode, a.cfg.RiotRegion)
		select {
		case queue <- task:
			return task.RunID, nil
		default:
			return "", errors.New("a run is already queued")
		}
	}
}

func (a *app) schedule(ctx context.Context, mode internal.RunMode, trigger internal.RunTrigger) {
	ticker := time.NewTicker(a.cfg.ScheduleInterval)
	defer ticker.Stop()

	enqueue := func() {
		if _, err := trigger(ctx, mode); err != nil {
			a.logger.Warn("run_enqueue_failed").
				Component("scheduler").
				Operation("enqueue").
				Err(err).
				Log()
		}
	}

	enqueue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			enqueue()
		}
	}
}
