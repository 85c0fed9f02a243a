package indexer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/dspace/dspacetest"
	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/hierarchy"
	"github.com/platinummonkey/repostats/pkg/solr"
	"github.com/platinummonkey/repostats/pkg/storage"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSolr answers facet queries from fixed per-event, per-field values and
// item counts from per-location totals
type fakeSolr struct {
	facets    map[string][]solr.FacetValue
	items     map[string]int64
	events    map[string]int64
	failField string
	failAfter int
	pages     map[string]int
}

func eventOf(q solr.Query) string {
	if q.Q == "type:0" {
		return string(facet.EventDownload)
	}
	return string(facet.EventView)
}

func (f *fakeSolr) Select(_ context.Context, q solr.Query) (*solr.Response, error) {
	resp := &solr.Response{CountDistinct: map[string]int64{}, Facets: map[string][]solr.FacetValue{}}
	if q.Core == solr.CoreSearch {
		resp.NumFound = f.items["*"]
		for _, fq := range q.Filters {
			for loc, n := range f.items {
				if strings.HasSuffix(fq, loc) {
					resp.NumFound = n
				}
			}
		}
		return resp, nil
	}

	field := q.FacetField
	if field == "" {
		field = q.StatsField
	}
	if field == "" {
		resp.NumFound = f.events[eventOf(q)]
		return resp, nil
	}
	values := f.facets[eventOf(q)+"/"+field]
	if q.StatsField != "" {
		resp.CountDistinct[field] = int64(len(values))
		return resp, nil
	}

	if f.pages == nil {
		f.pages = map[string]int{}
	}
	f.pages[field]++
	if field == f.failField && f.pages[field] > f.failAfter {
		return nil, errors.New("solr timeout")
	}
	end := q.FacetOffset + q.FacetLimit
	if end > len(values) {
		end = len(values)
	}
	if q.FacetOffset < end {
		resp.Facets[field] = values[q.FacetOffset:end]
	}
	return resp, nil
}

type env struct {
	store *storage.Store
	solr  *fakeSolr
	deps  Deps
	ids   map[string]string
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// newEnv builds a repository with one community holding two collections of
// 10 and 5 items, and a sub-community with no collections.
func newEnv(t *testing.T) *env {
	t.Helper()
	ids := map[string]string{}
	for _, k := range []string{"site", "comm", "sub", "coll1", "coll2"} {
		ids[k] = uuid.NewString()
	}
	mkItems := func(prefix string, n int) []dspace.Entity {
		var out []dspace.Entity
		for i := 0; i < n; i++ {
			id := uuid.NewString()
			ids[prefix+string(rune('a'+i))] = id
			out = append(out, dspace.Entity{ID: id, Name: prefix + " item", Handle: "1/" + id[:4]})
		}
		return out
	}

	srv := dspacetest.NewServer(dspacetest.Repository{
		Site: dspace.Entity{ID: ids["site"], Name: "Test Repository"},
		Communities: []dspacetest.Community{{
			Entity:         dspace.Entity{ID: ids["comm"], Name: "Engineering", Handle: "1/1"},
			SubCommunities: []dspacetest.Community{{Entity: dspace.Entity{ID: ids["sub"], Name: "Civil", Handle: "1/2"}}},
			Collections: []dspacetest.Collection{
				{Entity: dspace.Entity{ID: ids["coll1"], Name: "Theses", Handle: "1/3"}, Items: mkItems("coll1", 10)},
				{Entity: dspace.Entity{ID: ids["coll2"], Name: "Datasets", Handle: "1/4"}, Items: mkItems("coll2", 5)},
			},
		}},
	})
	t.Cleanup(srv.Close)

	log := quietLogger()
	client := dspace.NewClient(dspace.Config{URL: srv.URL, PageSize: 4}, log)
	require.NoError(t, client.Login(context.Background()))

	store, err := storage.Open(storage.Config{Driver: storage.DriverSQLite, DSN: ":memory:", MaxConns: 1}, log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.CreateTables(context.Background()))

	fs := &fakeSolr{facets: map[string][]solr.FacetValue{}, items: map[string]int64{}, events: map[string]int64{}}
	return &env{
		store: store,
		solr:  fs,
		ids:   ids,
		deps: Deps{
			Store:         store,
			Site:          client,
			Walker:        hierarchy.NewWalker(client, hierarchy.ModeTree, log),
			Aggregator:    facet.New(fs, 2, nil, log),
			RepositoryURL: "https://repo.example.edu",
			Now:           func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) },
			Log:           log,
		},
	}
}

func rowsByID(t *testing.T, store *storage.Store, kind storage.Kind) map[string]storage.Row {
	t.Helper()
	rows, err := store.List(context.Background(), kind)
	require.NoError(t, err)
	out := map[string]storage.Row{}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out
}

func TestRepositoryIndexer(t *testing.T) {
	e := newEnv(t)
	e.solr.items["*"] = 15
	e.solr.events[string(facet.EventView)] = 40
	e.solr.events[string(facet.EventDownload)] = 9

	ix := NewRepositoryIndexer(e.deps)
	assert.Equal(t, "repository", ix.Name())
	require.NoError(t, ix.Index(context.Background()))
	require.NoError(t, ix.Index(context.Background()))

	rows := rowsByID(t, e.store, storage.KindRepository)
	require.Len(t, rows, 1)
	row := rows[e.ids["site"]]
	assert.Equal(t, "Test Repository", row.Name)
	for _, w := range window.Defaults() {
		assert.Equal(t, int64(15), row.Counter(storage.MetricItems, w))
		assert.Equal(t, int64(40), row.Counter(storage.MetricViews, w))
		assert.Equal(t, int64(9), row.Counter(storage.MetricDownloads, w), "a second run overwrites instead of adding")
	}
}

func TestCollectionIndexer(t *testing.T) {
	e := newEnv(t)
	e.solr.items[e.ids["coll1"][24:]] = 10
	e.solr.items[e.ids["coll2"][24:]] = 5

	var views []solr.FacetValue
	views = append(views, solr.FacetValue{Key: e.ids["coll1"], Count: 12})
	for i := 0; i < 5; i++ {
		views = append(views, solr.FacetValue{Key: uuid.NewString(), Count: 1})
	}
	views = append(views, solr.FacetValue{Key: "legacy-123-unmigrated", Count: 99})
	e.solr.facets["views/owningColl"] = views

	require.NoError(t, NewCollectionIndexer(e.deps).Index(context.Background()))

	rows := rowsByID(t, e.store, storage.KindCollection)
	require.Len(t, rows, 2)

	c1 := rows[e.ids["coll1"]]
	assert.Equal(t, "Theses", c1.Name)
	assert.Equal(t, "Engineering", c1.ParentName)
	assert.Equal(t, "https://repo.example.edu/handle/1/3", c1.URL)
	assert.Equal(t, int64(12), c1.ViewsLastMonth)
	assert.Equal(t, int64(10), c1.ItemsTotal)

	c2 := rows[e.ids["coll2"]]
	assert.Zero(t, c2.ViewsLastMonth)
	assert.Equal(t, int64(5), c2.ItemsLastMonth)
}

func TestCommunityIndexerPreservesAbsentKeys(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ix := NewCommunityIndexer(e.deps)

	e.solr.facets["downloads/owningComm"] = []solr.FacetValue{
		{Key: e.ids["comm"], Count: 7},
		{Key: e.ids["sub"], Count: 2},
	}
	require.NoError(t, ix.Index(ctx))

	e.solr.facets["downloads/owningComm"] = []solr.FacetValue{{Key: e.ids["comm"], Count: 8}}
	require.NoError(t, ix.Index(ctx))

	rows := rowsByID(t, e.store, storage.KindCommunity)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(8), rows[e.ids["comm"]].DownloadsTotal)
	assert.Equal(t, int64(2), rows[e.ids["sub"]].DownloadsTotal)
	assert.Equal(t, "Engineering", rows[e.ids["sub"]].ParentName)
	assert.Equal(t, "", rows[e.ids["comm"]].ParentName)
}

func TestCommunityIndexerPageFailureKeepsEarlierPages(t *testing.T) {
	e := newEnv(t)
	// the sub-community lands on the first page, the community on the second
	e.solr.facets["views/owningComm"] = []solr.FacetValue{
		{Key: e.ids["sub"], Count: 3},
		{Key: uuid.NewString(), Count: 1},
		{Key: e.ids["comm"], Count: 5},
	}
	e.solr.failField = facet.FieldOwningComm
	e.solr.failAfter = 1

	err := NewCommunityIndexer(e.deps).Index(context.Background())
	require.ErrorIs(t, err, ErrIncomplete)

	rows := rowsByID(t, e.store, storage.KindCommunity)
	assert.Equal(t, int64(3), rows[e.ids["sub"]].ViewsLastMonth)
	assert.Zero(t, rows[e.ids["comm"]].ViewsLastMonth)
}

func TestItemIndexer(t *testing.T) {
	e := newEnv(t)
	e.deps.ItemPageDelay = time.Millisecond
	e.solr.facets["views/id"] = []solr.FacetValue{{Key: e.ids["coll1a"], Count: 4}}
	e.solr.facets["downloads/owningItem"] = []solr.FacetValue{{Key: e.ids["coll2e"], Count: 6}}

	require.NoError(t, NewItemIndexer(e.deps).Index(context.Background()))

	rows := rowsByID(t, e.store, storage.KindItem)
	require.Len(t, rows, 15)
	assert.Equal(t, "Theses", rows[e.ids["coll1a"]].ParentName)
	assert.Equal(t, "Datasets", rows[e.ids["coll2e"]].ParentName)
	assert.Equal(t, int64(4), rows[e.ids["coll1a"]].ViewsAcademicYear)
	assert.Equal(t, int64(6), rows[e.ids["coll2e"]].DownloadsLastMonth)
	assert.Zero(t, rows[e.ids["coll2e"]].ItemsTotal)
}

func TestUnknownWindowIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.solr.items["*"] = 3
	e.deps.Windows = []window.Name{"week", window.All}

	err := NewRepositoryIndexer(e.deps).Index(context.Background())
	assert.ErrorIs(t, err, ErrIncomplete)

	row := rowsByID(t, e.store, storage.KindRepository)[e.ids["site"]]
	assert.Equal(t, int64(3), row.ItemsTotal)
}

func TestNewByKind(t *testing.T) {
	for _, kind := range storage.Kinds() {
		ix, err := New(kind, Deps{})
		require.NoError(t, err)
		assert.Equal(t, string(kind), ix.Name())
	}
	_, err := New("bitstream", Deps{})
	assert.ErrorIs(t, err, storage.ErrUnknownKind)
}
