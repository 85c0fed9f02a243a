package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/repostats/pkg/window"
)

// Kind identifies an entity type and its stats table
type Kind string

const (
	KindRepository Kind = "repository"
	KindCommunity  Kind = "community"
	KindCollection Kind = "collection"
	KindItem       Kind = "item"
)

// Kinds lists every entity kind in pipeline order
func Kinds() []Kind {
	return []Kind{KindRepository, KindCommunity, KindCollection, KindItem}
}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Metric identifies a counter family
type Metric string

const (
	MetricItems     Metric = "items"
	MetricViews     Metric = "views"
	MetricDownloads Metric = "downloads"
)

// table describes the columns of one stats table. Empty column names mean
// the table has no such column.
type table struct {
	name         string
	idColumn     string
	nameColumn   string
	urlColumn    string
	parentColumn string
	metrics      []Metric
}

var tables = map[Kind]table{
	KindRepository: {
		name:       "repository_stats",
		idColumn:   "repository_id",
		nameColumn: "repository_name",
		metrics:    []Metric{MetricItems, MetricViews, MetricDownloads},
	},
	KindCommunity: {
		name:         "community_stats",
		idColumn:     "community_id",
		nameColumn:   "community_name",
		urlColumn:    "community_url",
		parentColumn: "parent_community_name",
		metrics:      []Metric{MetricItems, MetricViews, MetricDownloads},
	},
	KindCollection: {
		name:         "collection_stats",
		idColumn:     "collection_id",
		nameColumn:   "collection_name",
		urlColumn:    "collection_url",
		parentColumn: "parent_community_name",
		metrics:      []Metric{MetricItems, MetricViews, MetricDownloads},
	},
	KindItem: {
		name:         "item_stats",
		idColumn:     "item_id",
		nameColumn:   "item_name",
		urlColumn:    "item_url",
		parentColumn: "collection_name",
		metrics:      []Metric{MetricViews, MetricDownloads},
	},
}

func tableFor(kind Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// counterColumn resolves the column holding a metric for a window. Column
// names only ever come from this whitelist; values are always bound.
func (t table) counterColumn(metric Metric, w window.Name) (string, error) {
	suffix := w.Column()
	if suffix == "" {
		return "", fmt.Errorf("%w: window %q", ErrUnknownColumn, w)
	}
	for _, m := range t.metrics {
		if m == metric {
			return string(metric) + "_" + suffix, nil
		}
	}
	return "", fmt.Errorf("%w: %s has no %s counters", ErrUnknownColumn, t.name, metric)
}

func counterColumnsDDL(metrics []Metric) string {
	var cols []string
	for _, m := range metrics {
		for _, w := range window.Defaults() {
			cols = append(cols, fmt.Sprintf("%s_%s INTEGER DEFAULT 0", m, w.Column()))
		}
	}
	return strings.Join(cols, ",\n\t\t")
}

func createStatements() []string {
	return []string{
		`CREATE TABLE repository_stats (
		repository_id UUID PRIMARY KEY NOT NULL,
		repository_name VARCHAR(255) NOT NULL,
		` + counterColumnsDDL(tables[KindRepository].metrics) + `
	)`,
		`CREATE TABLE community_stats (
		community_id UUID PRIMARY KEY NOT NULL,
		community_name VARCHAR(255) NOT NULL,
		community_url VARCHAR(255) NOT NULL,
		parent_community_name VARCHAR(255),
		` + counterColumnsDDL(tables[KindCommunity].metrics) + `
	)`,
		`CREATE TABLE collection_stats (
		parent_community_name VARCHAR(255) NOT NULL,
		collection_id UUID PRIMARY KEY NOT NULL,
		collection_name VARCHAR(255) NOT NULL,
		collection_url VARCHAR(255) NOT NULL,
		` + counterColumnsDDL(tables[KindCollection].metrics) + `
	)`,
		`CREATE TABLE item_stats (
		collection_name VARCHAR(255) NOT NULL,
		item_id UUID PRIMARY KEY NOT NULL,
		item_name VARCHAR(255) NOT NULL,
		item_url VARCHAR(255) NOT NULL,
		` + counterColumnsDDL(tables[KindItem].metrics) + `
	)`,
	}
}

// CreateTables creates the four stats tables in one transaction
func (s *Store) CreateTables(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range createStatements() {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table: %w", err)
			}
		}
		return nil
	})
}

// DropTables drops whichever stats tables exist
func (s *Store) DropTables(ctx context.Context) error {
	existing, err := s.ExistingTables(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, name := range existing {
			if _, err := tx.ExecContext(ctx, "DROP TABLE "+name); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", name, err)
			}
		}
		return nil
	})
}

// ExistingTables returns the names of stats tables present in the database
func (s *Store) ExistingTables(ctx context.Context) ([]string, error) {
	var query string
	switch s.db.DriverName() {
	case DriverSQLite:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	default:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?"
	}
	query = s.db.Rebind(query)

	var existing []string
	for _, kind := range Kinds() {
		name := tables[kind].name
		var n int
		if err := s.db.GetContext(ctx, &n, query, name); err != nil {
			return nil, fmt.Errorf("failed to check table %s: %w", name, err)
		}
		if n > 0 {
			s.log.Debugf("The %s table exists", name)
			existing = append(existing, name)
		} else {
			s.log.Debugf("The %s table does not exist", name)
		}
	}
	return existing, nil
}
