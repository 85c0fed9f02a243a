package storage

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(sqlx.NewDb(db, DriverPostgres), log), mock
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		wantN int
		dots  bool
	}{
		{name: "short", in: "Physics", wantN: 7},
		{name: "exactly max", in: strings.Repeat("a", 255), wantN: 255},
		{name: "one over", in: strings.Repeat("a", 256), wantN: 254, dots: true},
		{name: "long", in: strings.Repeat("b", 300), wantN: 254, dots: true},
		{name: "multibyte", in: strings.Repeat("é", 300), wantN: 254, dots: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Truncate(tt.in, MaxTextLength)
			assert.Equal(t, tt.wantN, len([]rune(out)))
			assert.Equal(t, tt.dots, strings.HasSuffix(out, "..."))
		})
	}
}

func TestRegister(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO collection_stats (collection_id, collection_name, collection_url, parent_community_name) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING",
	)).
		WithArgs("c1", "Theses", "https://repo/collections/c1", "Physics").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := store.Register(ctx, Record{
		Kind:       KindCollection,
		ID:         "c1",
		Name:       "Theses",
		URL:        "https://repo/collections/c1",
		ParentName: "Physics",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRepositoryHasNoURL(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO repository_stats (repository_id, repository_name) VALUES ($1, $2) ON CONFLICT DO NOTHING",
	)).
		WithArgs("r1", "Repository").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := store.Register(context.Background(), Record{Kind: KindRepository, ID: "r1", Name: "Repository", URL: "ignored"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterTruncatesLongText(t *testing.T) {
	store, mock := newMockStore(t)
	long := strings.Repeat("x", 300)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO item_stats").
		WithArgs("i1", Truncate(long, MaxTextLength), "https://repo/items/i1", "Theses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := store.Register(context.Background(), Record{
		Kind: KindItem, ID: "i1", Name: long, URL: "https://repo/items/i1", ParentName: "Theses",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO community_stats").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Register(context.Background(), Record{Kind: KindCommunity, ID: "c1", Name: "Physics"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterValidation(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Register(context.Background(), Record{Kind: "bitstream", ID: "x"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = store.Register(context.Background(), Record{Kind: KindItem})
	assert.Error(t, err)
}

func TestSetCounters(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("UPDATE collection_stats SET views_total = $1 WHERE collection_id = $2"))
	prep.ExpectExec().WithArgs(5, "a").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(3, "b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := store.SetCounters(context.Background(), KindCollection, MetricViews, window.All,
		map[string]int{"b": 3, "a": 5})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCountersEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	n, err := store.SetCounters(context.Background(), KindItem, MetricDownloads, window.Month, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCountersRejectsUnknownColumns(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()

	_, err := store.SetCounters(ctx, KindItem, MetricItems, window.All, map[string]int{"i": 1})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = store.SetCounters(ctx, KindItem, MetricViews, window.Name("week"), map[string]int{"i": 1})
	assert.ErrorIs(t, err, ErrUnknownColumn)

	_, err = store.SetCounters(ctx, Kind("bitstream"), MetricViews, window.All, map[string]int{"i": 1})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSetCounterRejectsNegative(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectPrepare("UPDATE community_stats")
	mock.ExpectRollback()

	err := store.SetCounter(context.Background(), KindCommunity, MetricItems, window.Year, "c1", -1)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM item_stats WHERE item_id = ").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Get(context.Background(), KindItem, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingTables(t *testing.T) {
	store, mock := newMockStore(t)

	for _, name := range []string{"repository_stats", "community_stats", "collection_stats", "item_stats"} {
		count := 0
		if name == "community_stats" {
			count = 1
		}
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1")).
			WithArgs(name).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(count))
	}

	existing, err := store.ExistingTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"community_stats"}, existing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStatements(t *testing.T) {
	stmts := createStatements()
	require.Len(t, stmts, 4)

	assert.Contains(t, stmts[0], "repository_stats")
	assert.NotContains(t, stmts[0], "_url")
	assert.Contains(t, stmts[3], "item_stats")
	assert.NotContains(t, stmts[3], "items_total")
	assert.Contains(t, stmts[3], "downloads_academic_year INTEGER DEFAULT 0")
	assert.Contains(t, stmts[1], "parent_community_name VARCHAR(255),")
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("collection")
	require.NoError(t, err)
	assert.Equal(t, KindCollection, k)

	_, err = ParseKind("bundle")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN("db.local", 5432, "stats", "dspace", "it's secret", "")
	assert.Equal(t, `host=db.local port=5432 dbname=stats user=dspace password='it\'s secret' sslmode=disable`, dsn)
}

func TestRowCounter(t *testing.T) {
	row := Row{ViewsAcademicYear: 4, DownloadsTotal: 9}
	assert.Equal(t, int64(4), row.Counter(MetricViews, window.Year))
	assert.Equal(t, int64(9), row.Counter(MetricDownloads, window.All))
	assert.Zero(t, row.Counter(MetricItems, window.Month))
}
