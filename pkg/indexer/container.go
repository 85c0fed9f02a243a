package indexer

import (
	"context"

	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/storage"
)

// ContainerIndexer maintains community_stats or collection_stats. Both kinds
// are registered from the hierarchy walk, counted with a location-scoped
// catalog query, and credited views and downloads through their owning facet.
type ContainerIndexer struct {
	base
	field      string
	collection bool
}

// NewCommunityIndexer creates the community indexer
func NewCommunityIndexer(d Deps) *ContainerIndexer {
	return &ContainerIndexer{base: newBase(storage.KindCommunity, d), field: facet.FieldOwningComm}
}

// NewCollectionIndexer creates the collection indexer
func NewCollectionIndexer(d Deps) *ContainerIndexer {
	return &ContainerIndexer{base: newBase(storage.KindCollection, d), field: facet.FieldOwningColl, collection: true}
}

// Index registers every entity of the indexer's kind and writes its
// counters for every window.
func (x *ContainerIndexer) Index(ctx context.Context) error {
	x.failures = 0
	log := x.logger()
	log.Info("Loading entities from the repository hierarchy")

	var ids []string
	for e := range x.Walker.Containers(ctx) {
		if e.Kind != x.kind {
			continue
		}
		if x.register(ctx, e) {
			ids = append(ids, e.Entity.ID)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	log.WithField("count", len(ids)).Info("Registered entities")

	windows := x.windows()
	for _, w := range windows {
		for _, id := range ids {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n, err := x.Aggregator.CountItems(ctx, []string{facet.LocationFilter(x.collection, id)}, w.Range)
			if err != nil {
				x.fail(log.WithField("window", w.name).WithField("id", id), err, "Failed to count items")
				continue
			}
			x.setCounter(ctx, storage.MetricItems, w.name, id, n)
		}
	}

	for _, w := range windows {
		x.writeFacet(ctx, x.Aggregator, storage.MetricViews, w, facet.EventView, x.field)
		x.writeFacet(ctx, x.Aggregator, storage.MetricDownloads, w, facet.EventDownload, x.field)
	}
	return x.result(ctx)
}
