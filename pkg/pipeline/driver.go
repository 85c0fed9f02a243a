// Package pipeline runs the indexers in order: repository, community,
// collection, item.
//
// A stage that fails is logged and recorded; later stages still run against
// whatever rows already exist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/repostats/pkg/indexer"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StageResult is the outcome of one indexer
type StageResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Report summarizes a pipeline run
type Report struct {
	RunID  string
	Stages []StageResult
}

// Failed returns the stages that ended with an error
func (r Report) Failed() []StageResult {
	var out []StageResult
	for _, s := range r.Stages {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Driver runs a fixed sequence of indexers
type Driver struct {
	stages  []indexer.Indexer
	lock    Locker
	metrics *observability.Metrics
	tracer  trace.Tracer
	log     *logrus.Logger
	now     func() time.Time
}

// Option configures a Driver
type Option func(*Driver)

// WithLock guards each run with a Locker
func WithLock(l Locker) Option {
	return func(d *Driver) { d.lock = l }
}

// WithMetrics records stage outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// NewDriver creates a driver for stages, which run in the given order
func NewDriver(stages []indexer.Indexer, log *logrus.Logger, opts ...Option) *Driver {
	if log == nil {
		log = logrus.New()
	}
	d := &Driver{
		stages: stages,
		tracer: observability.Tracer("pipeline"),
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes every stage once. It only returns an error when the run could
// not start (lock held or unavailable) or ctx was cancelled; stage failures
// are reported in the Report.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	log := d.log.WithField("run_id", report.RunID)

	if d.lock != nil {
		release, err := d.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				log.Warn("Another pipeline run holds the lock, skipping this run")
			}
			return report, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.WithError(err).Error("Failed to release pipeline lock")
			}
		}()
	}

	ctx, span := d.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("run.id", report.RunID)))
	defer span.End()

	start := d.now()
	log.Info("Starting pipeline run")
	for _, stage := range d.stages {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}
		report.Stages = append(report.Stages, d.runStage(ctx, log, stage))
	}

	failed := report.Failed()
	if len(failed) == 0 {
		d.metrics.RunSucceeded(d.now())
	} else {
		span.SetStatus(codes.Error, fmt.Sprintf("%d stages failed", len(failed)))
	}
	log.WithFields(logrus.Fields{
		"duration": d.now().Sub(start).String(),
		"failed":   len(failed),
	}).Info("Pipeline run finished")
	return report, nil
}

func (d *Driver) runStage(ctx context.Context, log *logrus.Entry, stage indexer.Indexer) (result StageResult) {
	name := stage.Name()
	result.Name = name
	log = log.WithField("stage", name)

	ctx, span := d.tracer.Start(ctx, "indexer."+name)
	start := d.now()
	defer func() {
		result.Duration = d.now().Sub(start)
		status := observability.StatusOK
		if result.Err != nil {
			status = observability.StatusFailed
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
			log.WithError(result.Err).Error("Stage failed")
		} else {
			log.WithField("duration", result.Duration.String()).Info("Stage finished")
		}
		d.metrics.StageFinished(name, status, result.Duration)
		span.End()
	}()

	log.Info("Stage started")
	result.Err = d.index(ctx, stage)
	return result
}

func (d *Driver) index(ctx context.Context, stage indexer.Indexer) (err error) {
	defer observability.RecoverPanic(d.log, stage.Name()+" indexer", &err)
	return stage.Index(ctx)
}
