package indexer

import (
	"context"

	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/hierarchy"
	"github.com/platinummonkey/repostats/pkg/storage"
	"github.com/sirupsen/logrus"
)

// RepositoryIndexer maintains the single repository_stats row
type RepositoryIndexer struct {
	base
}

// NewRepositoryIndexer creates the repository indexer
func NewRepositoryIndexer(d Deps) *RepositoryIndexer {
	return &RepositoryIndexer{base: newBase(storage.KindRepository, d)}
}

// Index registers the repository and writes its item, view and download
// totals for every window.
func (x *RepositoryIndexer) Index(ctx context.Context) error {
	x.failures = 0
	log := x.logger()

	site, err := x.Site.Site(ctx)
	if err != nil {
		x.fail(log, err, "Failed to read the repository site object")
		return x.result(ctx)
	}
	if site.Name == "" {
		site.Name = hierarchy.UnknownParent
	}
	log.WithFields(logrus.Fields{"id": site.ID, "name": site.Name}).Info("Indexing repository")
	if !x.register(ctx, hierarchy.Entry{Kind: storage.KindRepository, Entity: *site}) {
		return x.result(ctx)
	}

	for _, w := range x.windows() {
		if ctx.Err() != nil {
			break
		}
		wlog := log.WithField("window", w.name)

		if n, err := x.Aggregator.CountItems(ctx, nil, w.Range); err != nil {
			x.fail(wlog, err, "Failed to count repository items")
		} else {
			x.setCounter(ctx, storage.MetricItems, w.name, site.ID, n)
		}

		for _, ev := range []struct {
			event  facet.Event
			metric storage.Metric
		}{
			{facet.EventView, storage.MetricViews},
			{facet.EventDownload, storage.MetricDownloads},
		} {
			n, err := x.Aggregator.CountEvents(ctx, facet.Request{Event: ev.event, Range: w.Range})
			if err != nil {
				x.fail(wlog, err, "Failed to count repository "+string(ev.metric))
				continue
			}
			x.setCounter(ctx, ev.metric, w.name, site.ID, n)
		}
	}
	return x.result(ctx)
}
