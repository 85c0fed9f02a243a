package indexer

import (
	"context"

	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/storage"
)

// ItemIndexer maintains item_stats. Items carry only view and download
// counters; the facet walk is throttled by an optional delay between pages.
type ItemIndexer struct {
	base
}

// NewItemIndexer creates the item indexer
func NewItemIndexer(d Deps) *ItemIndexer {
	return &ItemIndexer{base: newBase(storage.KindItem, d)}
}

// Index registers every item and writes its view and download counters for
// every window.
func (x *ItemIndexer) Index(ctx context.Context) error {
	x.failures = 0
	log := x.logger()
	log.Info("Loading items")

	registered := 0
	for e := range x.Walker.Items(ctx) {
		if x.register(ctx, e) {
			registered++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.WithField("count", registered).Info("Registered items")

	agg := x.Aggregator.WithDelay(x.ItemPageDelay)
	for _, w := range x.windows() {
		x.writeFacet(ctx, agg, storage.MetricViews, w, facet.EventView, facet.FieldID)
		x.writeFacet(ctx, agg, storage.MetricDownloads, w, facet.EventDownload, facet.FieldOwningItem)
	}
	return x.result(ctx)
}
