package dspace_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/dspace/dspacetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func fixture() dspacetest.Repository {
	var items []dspace.Entity
	for i := 0; i < 7; i++ {
		items = append(items, dspace.Entity{ID: fmt.Sprintf("item-%d", i), Name: fmt.Sprintf("Item %d", i)})
	}
	return dspacetest.Repository{
		Site:     dspace.Entity{ID: "site", Name: "Test Repository"},
		Username: "admin@example.edu",
		Password: "secret",
		Communities: []dspacetest.Community{{
			Entity: dspace.Entity{ID: "comm-1", Name: "Engineering", Handle: "1/1"},
			SubCommunities: []dspacetest.Community{{
				Entity: dspace.Entity{ID: "comm-2", Name: "Civil"},
			}},
			Collections: []dspacetest.Collection{{
				Entity: dspace.Entity{ID: "coll-1", Name: "Theses"},
				Items:  items,
			}},
		}},
	}
}

func collect(t *testing.T, seq func(func(dspace.Entity, error) bool)) []string {
	t.Helper()
	var ids []string
	for e, err := range seq {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	return ids
}

func TestLoginAndPaging(t *testing.T) {
	srv := dspacetest.NewServer(fixture())
	defer srv.Close()

	client := dspace.NewClient(dspace.Config{
		URL: srv.URL + "/", Username: "admin@example.edu", Password: "secret", PageSize: 3,
	}, quietLogger())
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	ids := collect(t, client.Items(ctx))
	assert.Len(t, ids, 7)
	assert.Equal(t, "item-0", ids[0])
	assert.Equal(t, 3, srv.Requests("/core/items"))

	site, err := client.Site(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Test Repository", site.Name)
}

func TestLoginRejected(t *testing.T) {
	srv := dspacetest.NewServer(fixture())
	defer srv.Close()

	client := dspace.NewClient(dspace.Config{URL: srv.URL, Username: "admin@example.edu", Password: "wrong"}, quietLogger())
	err := client.Login(context.Background())
	assert.ErrorIs(t, err, dspace.ErrAuthentication)
}

func TestHierarchyEndpoints(t *testing.T) {
	srv := dspacetest.NewServer(fixture())
	defer srv.Close()

	client := dspace.NewClient(dspace.Config{URL: srv.URL}, quietLogger())
	ctx := context.Background()
	require.NoError(t, client.Login(ctx))

	assert.Equal(t, []string{"comm-1"}, collect(t, client.TopCommunities(ctx)))
	assert.Equal(t, []string{"comm-1", "comm-2"}, collect(t, client.Communities(ctx)))
	assert.Equal(t, []string{"comm-2"}, collect(t, client.SubCommunities(ctx, "comm-1")))
	assert.Equal(t, []string{"coll-1"}, collect(t, client.CommunityCollections(ctx, "comm-1")))
	assert.Empty(t, collect(t, client.CommunityCollections(ctx, "comm-2")))
	assert.Equal(t, []string{"coll-1"}, collect(t, client.Collections(ctx)))

	parent, err := client.ParentCommunity(ctx, false, "comm-2")
	require.NoError(t, err)
	assert.Equal(t, "Engineering", parent.Name)

	_, err = client.ParentCommunity(ctx, false, "comm-1")
	assert.ErrorIs(t, err, dspace.ErrNotFound)

	for i := 0; i < 2; i++ {
		parent, err = client.ParentCommunity(ctx, true, "coll-1")
		require.NoError(t, err)
		assert.Equal(t, "comm-1", parent.ID)
	}
	assert.Equal(t, 1, srv.Requests("/core/collections/coll-1/parentCommunity"))

	owner, err := client.OwningCollection(ctx, "item-3")
	require.NoError(t, err)
	assert.Equal(t, "Theses", owner.Name)
}

func TestUnexpectedStatusStopsPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := dspace.NewClient(dspace.Config{URL: srv.URL}, quietLogger())
	var errs int
	for _, err := range client.Communities(context.Background()) {
		assert.ErrorIs(t, err, dspace.ErrUnexpectedStatus)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestHandleURL(t *testing.T) {
	assert.Equal(t, "https://repo.example.edu/handle/1/2", dspace.HandleURL("https://repo.example.edu/", "1/2"))
	assert.Empty(t, dspace.HandleURL("https://repo.example.edu", ""))
}

func TestPing(t *testing.T) {
	srv := dspacetest.NewServer(fixture())
	defer srv.Close()
	assert.NoError(t, dspace.NewClient(dspace.Config{URL: srv.URL}, quietLogger()).Ping(context.Background()))

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	err := dspace.NewClient(dspace.Config{URL: down.URL}, quietLogger()).Ping(context.Background())
	assert.ErrorIs(t, err, dspace.ErrUnexpectedStatus)
}
