// Package facet counts usage events per entity by paging through facet
// values of the Solr statistics index.
//
// A count starts with a zero-row stats probe that learns how many distinct
// facet values match, then requests the facet in fixed-size pages until all
// of them have been read. Facet keys that are not entity identifiers are
// dropped.
package facet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/platinummonkey/repostats/pkg/solr"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is the number of distinct facet values per page
const DefaultPageSize = 100

// Index field names
const (
	FieldTime          = "time"
	FieldAccessionDate = "dc.date.accessioned_dt"
	FieldOwningComm    = "owningComm"
	FieldOwningColl    = "owningColl"
	FieldOwningItem    = "owningItem"
	FieldID            = "id"
)

// Event selects which usage events are counted
type Event string

const (
	EventView     Event = "views"
	EventDownload Event = "downloads"
)

// query returns the base query and filters for the event type
func (e Event) query() (string, []string) {
	switch e {
	case EventDownload:
		return "type:0", []string{"-isBot:true", "statistics_type:view", "bundleName:ORIGINAL"}
	default:
		return "type:2", []string{"-isBot:true", "statistics_type:view"}
	}
}

// Searcher runs Solr queries
type Searcher interface {
	Select(ctx context.Context, q solr.Query) (*solr.Response, error)
}

// Request describes one facet count
type Request struct {
	Event Event
	Field string
	// Filters narrow the events further, for example to one community
	Filters []string
	Range   window.Range
}

// PageFunc receives the valid counts of one facet page. Returning an error
// aborts the count.
type PageFunc func(page int, counts map[string]int) error

// Aggregator runs faceted counts
type Aggregator struct {
	searcher Searcher
	pageSize int
	delay    time.Duration
	metrics  *observability.Metrics
	tracer   trace.Tracer
	log      *logrus.Logger
}

// New creates an aggregator. metrics may be nil.
func New(searcher Searcher, pageSize int, metrics *observability.Metrics, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.New()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Aggregator{
		searcher: searcher,
		pageSize: pageSize,
		metrics:  metrics,
		tracer:   observability.Tracer("facet"),
		log:      log,
	}
}

// WithDelay returns a copy that sleeps d between facet pages
func (a *Aggregator) WithDelay(d time.Duration) *Aggregator {
	cp := *a
	cp.delay = d
	return &cp
}

func (a *Aggregator) eventQuery(req Request) solr.Query {
	q, filters := req.Event.query()
	filters = append(filters, req.Filters...)
	if fq := solr.RangeFilter(FieldTime, req.Range); fq != "" {
		filters = append(filters, fq)
	}
	return solr.Query{
		Core:    solr.CoreStatistics,
		Sharded: true,
		Q:       q,
		Filters: filters,
	}
}

// EachPage walks the facet page by page, passing each page's counts to fn.
// It returns the number of distinct values the probe reported. Zero distinct
// values is not an error; fn is then never called.
func (a *Aggregator) EachPage(ctx context.Context, req Request, fn PageFunc) (distinct int64, err error) {
	ctx, span := a.tracer.Start(ctx, "facet.count", trace.WithAttributes(
		attribute.String("facet.field", req.Field),
		attribute.String("facet.event", string(req.Event)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	base := a.eventQuery(req)
	// legacy events carry non-UUID owners; keep them out of the facet
	base.Filters = append(base.Filters, req.Field+":/.{36}/")

	probe := base
	probe.StatsField = req.Field
	resp, err := a.searcher.Select(ctx, probe)
	if err != nil {
		return 0, fmt.Errorf("distinct count probe for %s failed: %w", req.Field, err)
	}
	distinct = resp.CountDistinct[req.Field]
	span.SetAttributes(attribute.Int64("facet.distinct", distinct))

	log := a.log.WithField("field", req.Field)
	if distinct <= 0 {
		log.Info("No facet values to index")
		return 0, nil
	}

	pages := int((distinct + int64(a.pageSize) - 1) / int64(a.pageSize))
	for page := 0; page < pages; page++ {
		if page > 0 && a.delay > 0 {
			select {
			case <-ctx.Done():
				return distinct, ctx.Err()
			case <-time.After(a.delay):
			}
		}

		log.WithField("page", page+1).Debugf("Reading facet page %d of %d", page+1, pages)
		q := base
		q.FacetField = req.Field
		q.FacetLimit = a.pageSize
		q.FacetOffset = page * a.pageSize

		resp, err := a.searcher.Select(ctx, q)
		if err != nil {
			return distinct, fmt.Errorf("facet page %d of %s failed: %w", page+1, req.Field, err)
		}
		a.metrics.FacetPage(req.Field)

		values := resp.Facets[req.Field]
		if len(values) == 0 {
			break
		}
		if err := fn(page, a.validCounts(req.Field, values)); err != nil {
			return distinct, err
		}
	}
	return distinct, nil
}

// validCounts keeps the facet values keyed by an entity identifier. A key
// repeated within a page keeps its last value.
func (a *Aggregator) validCounts(field string, values []solr.FacetValue) map[string]int {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		if !ValidKey(v.Key) {
			a.log.WithFields(logrus.Fields{"field": field, "key": v.Key}).Warn("Skipping facet key that is not an entity identifier")
			a.metrics.FacetKeySkipped(field)
			continue
		}
		if v.Count < 0 {
			continue
		}
		counts[v.Key] = v.Count
	}
	return counts
}

// CountFacet collects every page into one mapping from entity identifier to
// count. A value read on a later page replaces an earlier one.
func (a *Aggregator) CountFacet(ctx context.Context, req Request) (map[string]int, error) {
	merged := map[string]int{}
	_, err := a.EachPage(ctx, req, func(_ int, counts map[string]int) error {
		for id, n := range counts {
			merged[id] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// CountEvents returns the total number of matching events
func (a *Aggregator) CountEvents(ctx context.Context, req Request) (int64, error) {
	resp, err := a.searcher.Select(ctx, a.eventQuery(req))
	if err != nil {
		return 0, fmt.Errorf("%s count failed: %w", req.Event, err)
	}
	return resp.NumFound, nil
}

// CountItems returns the number of archived items accessioned within r,
// optionally scoped by filters such as a community or collection location.
func (a *Aggregator) CountItems(ctx context.Context, filters []string, r window.Range) (int64, error) {
	q := solr.Query{
		Core:    solr.CoreSearch,
		Q:       "search.resourcetype:Item",
		Filters: append([]string(nil), filters...),
	}
	if fq := solr.RangeFilter(FieldAccessionDate, r); fq != "" {
		q.Filters = append(q.Filters, fq)
	}
	resp, err := a.searcher.Select(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("item count failed: %w", err)
	}
	return resp.NumFound, nil
}

// ValidKey reports whether a facet key is a canonical 36 character UUID
func ValidKey(key string) bool {
	if len(key) != 36 {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}

// LocationFilter scopes catalog queries to a community or collection
func LocationFilter(collection bool, id string) string {
	if collection {
		return solr.Term("location.coll", id)
	}
	return solr.Term("location.comm", id)
}
