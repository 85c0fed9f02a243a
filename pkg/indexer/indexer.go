// Package indexer holds the four stats indexers. Each one registers the
// entities of its kind and then overwrites their counters, window by window,
// with the counts reported by the search index.
//
// Indexers recover from upstream and data errors themselves: a failed count
// is logged and the indexer moves on to the next window or entity. Index only
// returns an error to report that some of the work could not be done.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/hierarchy"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/platinummonkey/repostats/pkg/storage"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
)

// ErrIncomplete is returned when an indexer finished with some of its
// counts or registrations skipped
var ErrIncomplete = errors.New("indexing incomplete")

// Indexer populates the stats table of one entity kind
type Indexer interface {
	Name() string
	Index(ctx context.Context) error
}

// Registry is the part of the stats store the indexers write to
type Registry interface {
	Register(ctx context.Context, rec storage.Record) (bool, error)
	SetCounter(ctx context.Context, kind storage.Kind, metric storage.Metric, w window.Name, id string, value int) error
	SetCounters(ctx context.Context, kind storage.Kind, metric storage.Metric, w window.Name, counts map[string]int) (int, error)
}

// SiteSource returns the repository's site object
type SiteSource interface {
	Site(ctx context.Context) (*dspace.Entity, error)
}

// Deps are the collaborators shared by every indexer
type Deps struct {
	Store         Registry
	Site          SiteSource
	Walker        *hierarchy.Walker
	Aggregator    *facet.Aggregator
	Windows       []window.Name
	RepositoryURL string
	ItemPageDelay time.Duration
	Now           func() time.Time
	Metrics       *observability.Metrics
	Log           *logrus.Logger
}

// New returns the indexer for a kind
func New(kind storage.Kind, d Deps) (Indexer, error) {
	switch kind {
	case storage.KindRepository:
		return NewRepositoryIndexer(d), nil
	case storage.KindCommunity:
		return NewCommunityIndexer(d), nil
	case storage.KindCollection:
		return NewCollectionIndexer(d), nil
	case storage.KindItem:
		return NewItemIndexer(d), nil
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownKind, kind)
	}
}

// base carries the shared collaborators and a tally of recovered failures
type base struct {
	Deps
	kind     storage.Kind
	failures int
}

func newBase(kind storage.Kind, d Deps) base {
	if d.Log == nil {
		d.Log = logrus.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if len(d.Windows) == 0 {
		d.Windows = window.Defaults()
	}
	return base{Deps: d, kind: kind}
}

func (b *base) Name() string {
	return string(b.kind)
}

func (b *base) logger() *logrus.Entry {
	return b.Log.WithField("stage", b.kind)
}

// fail logs a recovered error and counts it
func (b *base) fail(entry *logrus.Entry, err error, msg string) {
	b.failures++
	entry.WithError(err).Error(msg)
}

// result turns the failure tally into Index's return value
func (b *base) result(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.failures > 0 {
		return fmt.Errorf("%w: %d %s operations failed", ErrIncomplete, b.failures, b.kind)
	}
	return nil
}

// windows resolves each configured window against one instant. Unknown
// windows are logged as configuration errors and skipped: there is no
// counter column they could be written to.
func (b *base) windows() []resolvedWindow {
	now := b.Now()
	out := make([]resolvedWindow, 0, len(b.Windows))
	for _, w := range b.Windows {
		r, ok := window.Resolve(w, now)
		if !ok {
			b.fail(b.logger().WithField("window", w), window.ErrUnknownWindow, "Configuration error: skipping unknown time window")
			continue
		}
		out = append(out, resolvedWindow{name: w, Range: r})
	}
	return out
}

type resolvedWindow struct {
	window.Range
	name window.Name
}

func (b *base) register(ctx context.Context, e hierarchy.Entry) bool {
	rec := storage.Record{
		Kind:       b.kind,
		ID:         e.Entity.ID,
		Name:       e.Entity.Name,
		URL:        dspace.HandleURL(b.RepositoryURL, e.Entity.Handle),
		ParentName: e.ParentName,
	}
	entry := b.logger().WithFields(logrus.Fields{"id": rec.ID, "name": rec.Name})
	created, err := b.Store.Register(ctx, rec)
	if err != nil {
		b.fail(entry, err, "Failed to register entity")
		return false
	}
	if created {
		entry.Debug("Registered new entity")
	}
	return true
}

// setCounter writes one scalar counter
func (b *base) setCounter(ctx context.Context, metric storage.Metric, w window.Name, id string, value int64) {
	entry := b.logger().WithFields(logrus.Fields{"window": w, "metric": metric, "id": id})
	if err := b.Store.SetCounter(ctx, b.kind, metric, w, id, int(value)); err != nil {
		b.fail(entry, err, "Failed to write counter")
		return
	}
	b.Metrics.CountersWritten(string(b.kind), string(metric), string(w), 1)
	entry.WithField("value", value).Debug("Wrote counter")
}

// writeFacet overwrites a counter for every entity in the facet, one
// transaction per page. A failed page ends this facet for this window;
// pages already written stay written.
func (b *base) writeFacet(ctx context.Context, agg *facet.Aggregator, metric storage.Metric, w resolvedWindow, event facet.Event, field string) {
	entry := b.logger().WithFields(logrus.Fields{"window": w.name, "metric": metric, "field": field})
	entry.Info("Updating counters from facet")

	written := 0
	_, err := agg.EachPage(ctx, facet.Request{Event: event, Field: field, Range: w.Range}, func(page int, counts map[string]int) error {
		n, err := b.Store.SetCounters(ctx, b.kind, metric, w.name, counts)
		if err != nil {
			return fmt.Errorf("page %d: %w", page+1, err)
		}
		written += n
		b.Metrics.CountersWritten(string(b.kind), string(metric), string(w.name), n)
		return nil
	})
	if err != nil {
		b.fail(entry, err, "Facet aggregation aborted for this window")
		return
	}
	entry.WithField("rows", written).Info("Facet counters updated")
}
