package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repostats/pkg/config"
	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/platinummonkey/repostats/pkg/pipeline"
	"github.com/platinummonkey/repostats/pkg/solr"
)

func newScheduleCommand() *Command {
	cmd := &Command{
		Name:        "schedule",
		Description: "Run the statistics pipeline on a cron schedule",
		Flags:       flag.NewFlagSet("schedule", flag.ContinueOnError),
	}
	cmd.Flags.String("config", "repostats.yaml", "Path to the configuration file")
	cmd.Flags.Bool("run-once", false, "Run the pipeline once and exit")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		runOnce := cmd.Flags.Lookup("run-once").Value.String() == "true"
		return runSchedule(context.Background(), cmd.Flags.Lookup("config").Value.String(), runOnce)
	}
	return cmd
}

// scheduler runs the pipeline with the most recently loaded configuration
type scheduler struct {
	app     *app
	path    string
	metrics *observability.Metrics
	lock    pipeline.Locker
	ctx     context.Context

	// running keeps this process to one pipeline run at a time
	running sync.Mutex

	cron  *cron.Cron
	entry cron.EntryID
	spec  string

	mu  sync.RWMutex
	cfg *config.Config
}

func (s *scheduler) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// run executes one pipeline run. Failures are logged, never returned: the
// next scheduled run must still happen.
func (s *scheduler) run(ctx context.Context) {
	log := s.app.log
	if !s.running.TryLock() {
		log.Warn("Previous pipeline run still in progress, skipping this run")
		return
	}
	defer s.running.Unlock()
	cfg := s.config()

	stages, err := pipeline.Stages(pipeline.StageAll, buildDeps(ctx, cfg, s.app.store, s.metrics, log))
	if err != nil {
		log.WithError(err).Error("Failed to build pipeline stages")
		return
	}

	opts := []pipeline.Option{pipeline.WithMetrics(s.metrics)}
	if s.lock != nil {
		opts = append(opts, pipeline.WithLock(s.lock))
	}

	report, err := pipeline.NewDriver(stages, log, opts...).Run(ctx)
	switch {
	case errors.Is(err, pipeline.ErrLockHeld):
		return
	case err != nil:
		log.WithError(err).Error("Pipeline run did not complete")
		return
	}
	for _, failed := range report.Failed() {
		log.WithError(failed.Err).WithField("stage", failed.Name).Warn("Stage finished with errors")
	}
}

// schedule registers the pipeline job under spec, replacing any previous
// entry. The previous entry is kept when spec does not parse.
func (s *scheduler) schedule(spec string) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(s.ctx) })
	if err != nil {
		return err
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry, s.spec = id, spec
	return nil
}

// reload re-reads the config file. An invalid file is logged and the
// previous configuration stays in use. A changed schedule takes effect
// immediately; database and lock settings only change on restart.
func (s *scheduler) reload() {
	cfg, err := config.Load(s.path)
	if err != nil {
		s.app.log.WithError(err).Error("Ignoring invalid configuration change")
		return
	}

	s.mu.Lock()
	if cfg.Database != s.cfg.Database {
		s.app.log.Warn("Database settings changed, restart to apply them")
	}
	if cfg.Schedule.Lock != s.cfg.Schedule.Lock {
		s.app.log.Warn("Lock settings changed, restart to apply them")
	}
	s.cfg = cfg
	s.mu.Unlock()

	if s.cron != nil && cfg.Schedule.Cron != s.spec {
		if err := s.schedule(cfg.Schedule.Cron); err != nil {
			s.app.log.WithError(err).Error("Keeping the previous schedule")
		} else {
			s.app.log.WithField("schedule", cfg.Schedule.Cron).Info("Rescheduled pipeline runs")
		}
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		s.app.log.SetLevel(level)
	}
	s.app.log.WithField("path", s.path).Info("Reloaded configuration")
}

// watch reloads the configuration whenever the file is written or replaced.
// The directory is watched so editors that rename over the file are seen.
func (s *scheduler) watch(watcher *fsnotify.Watcher) {
	target := filepath.Clean(s.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.app.log.WithError(err).Warn("Config watcher error")
		}
	}
}

func runSchedule(ctx context.Context, path string, runOnce bool) error {
	a, err := loadApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openStore(); err != nil {
		return err
	}

	log := a.log
	shutdown := observability.NewShutdownManager(log, 30*time.Second)
	defer shutdown.Shutdown()

	providers, err := observability.InitOTel(ctx, a.cfg.Tracing, log)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize OpenTelemetry, continuing without it")
	}
	if providers != nil {
		shutdown.Register("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, log)
		})
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			log.WithError(err).Warn("Failed to create OpenTelemetry instruments")
		} else {
			metrics.SetOTel(otelMetrics)
		}
	}

	s := &scheduler{app: a, path: path, metrics: metrics, ctx: ctx, cfg: a.cfg}

	var rdb *redis.Client
	if url := a.cfg.Schedule.Lock.RedisURL; url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return fmt.Errorf("%w: schedule.lock.redis_url: %v", config.ErrInvalidConfig, err)
		}
		rdb = redis.NewClient(opts)
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
		s.lock = pipeline.NewRedisLock(rdb, pipeline.DefaultLockKey, a.cfg.Schedule.Lock.TTL)
	}

	if runOnce {
		s.run(ctx)
		return nil
	}

	if listen := a.cfg.Metrics.Listen; listen != "" {
		checker := observability.NewHealthChecker(a.store, rdb).
			WithUpstream("dspace", dspace.NewClient(a.cfg.DSpaceConfig(), log)).
			WithUpstream("solr", solr.NewClient(a.cfg.SolrClientConfig(), log))
		srv := observability.NewServer(listen, registry, checker)
		go func() {
			log.WithField("addr", listen).Info("Serving metrics and health endpoints")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		shutdown.Register("metrics server", srv.Shutdown)
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))))
	if err := s.schedule(a.cfg.Schedule.Cron); err != nil {
		return fmt.Errorf("%w: schedule.cron: %v", config.ErrInvalidConfig, err)
	}
	s.cron.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		// waits for a running pipeline to finish
		select {
		case <-s.cron.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WithError(err).Warn("Failed to create config watcher, configuration changes need a restart")
		} else if err := watcher.Add(filepath.Dir(path)); err != nil {
			log.WithError(err).Warn("Failed to watch config directory, configuration changes need a restart")
			watcher.Close()
		} else {
			go s.watch(watcher)
			shutdown.Register("config watcher", func(context.Context) error { return watcher.Close() })
		}
	}

	log.WithField("schedule", a.cfg.Schedule.Cron).Info("repostats scheduler started")

	return shutdown.Wait(ctx)
}
