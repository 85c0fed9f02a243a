package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/platinummonkey/repostats/pkg/window"
	"github.com/sirupsen/logrus"
)

// MaxTextLength is the width of the name and URL columns
const MaxTextLength = 255

const ellipsis = "..."

var (
	// ErrUnknownKind is returned for an entity kind with no stats table
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrUnknownColumn is returned for a metric/window pair a table does not carry
	ErrUnknownColumn = errors.New("unknown counter column")
	// ErrNotFound is returned when no row exists for an identifier
	ErrNotFound = errors.New("stats row not found")
)

// Record identifies an entity to register
type Record struct {
	Kind       Kind
	ID         string
	Name       string
	URL        string
	ParentName string
}

// Row is one stats row. Counters a table does not carry read as zero.
type Row struct {
	ID                    string `db:"id"`
	Name                  string `db:"name"`
	URL                   string `db:"url"`
	ParentName            string `db:"parent_name"`
	ItemsLastMonth        int64  `db:"items_last_month"`
	ItemsAcademicYear     int64  `db:"items_academic_year"`
	ItemsTotal            int64  `db:"items_total"`
	ViewsLastMonth        int64  `db:"views_last_month"`
	ViewsAcademicYear     int64  `db:"views_academic_year"`
	ViewsTotal            int64  `db:"views_total"`
	DownloadsLastMonth    int64  `db:"downloads_last_month"`
	DownloadsAcademicYear int64  `db:"downloads_academic_year"`
	DownloadsTotal        int64  `db:"downloads_total"`
}

// Counter returns the value of one counter
func (r Row) Counter(metric Metric, w window.Name) int64 {
	switch metric + Metric("_"+w.Column()) {
	case "items_last_month":
		return r.ItemsLastMonth
	case "items_academic_year":
		return r.ItemsAcademicYear
	case "items_total":
		return r.ItemsTotal
	case "views_last_month":
		return r.ViewsLastMonth
	case "views_academic_year":
		return r.ViewsAcademicYear
	case "views_total":
		return r.ViewsTotal
	case "downloads_last_month":
		return r.DownloadsLastMonth
	case "downloads_academic_year":
		return r.DownloadsAcademicYear
	case "downloads_total":
		return r.DownloadsTotal
	}
	return 0
}

// Store reads and writes the stats tables
type Store struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// New wraps an open database handle
func New(db *sqlx.DB, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{db: db, log: log}
}

// DB exposes the underlying handle
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Truncate shortens s to max characters, replacing the tail with "..."
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-len(ellipsis)-1]) + ellipsis
}

// Register inserts a row for the entity unless one already exists. It
// reports whether a new row was created.
func (s *Store) Register(ctx context.Context, rec Record) (bool, error) {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return false, err
	}
	if rec.ID == "" {
		return false, fmt.Errorf("cannot register %s without an identifier", rec.Kind)
	}

	columns := []string{t.idColumn, t.nameColumn}
	args := []interface{}{rec.ID, s.truncate(rec.Kind, rec.ID, "name", rec.Name)}
	if t.urlColumn != "" {
		columns = append(columns, t.urlColumn)
		args = append(args, s.truncate(rec.Kind, rec.ID, "url", rec.URL))
	}
	if t.parentColumn != "" {
		columns = append(columns, t.parentColumn)
		args = append(args, s.truncate(rec.Kind, rec.ID, "parent name", rec.ParentName))
	}

	query := s.db.Rebind(fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		t.name, strings.Join(columns, ", "), placeholders(len(columns)),
	))

	var inserted int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		inserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to register %s %s: %w", rec.Kind, rec.ID, err)
	}
	return inserted > 0, nil
}

func (s *Store) truncate(kind Kind, id, field, value string) string {
	out := Truncate(value, MaxTextLength)
	if out != value {
		s.log.WithFields(logrus.Fields{"kind": kind, "id": id}).
			Debugf("%s is longer than %d characters and was shortened", field, MaxTextLength)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// SetCounter overwrites one counter of one entity
func (s *Store) SetCounter(ctx context.Context, kind Kind, metric Metric, w window.Name, id string, value int) error {
	_, err := s.SetCounters(ctx, kind, metric, w, map[string]int{id: value})
	return err
}

// SetCounters overwrites a counter for every entity in counts within a
// single transaction. Identifiers without a row are ignored. It returns the
// number of rows updated.
func (s *Store) SetCounters(ctx context.Context, kind Kind, metric Metric, w window.Name, counts map[string]int) (int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return 0, err
	}
	column, err := t.counterColumn(metric, w)
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	query := s.db.Rebind(fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", t.name, column, t.idColumn))

	var updated int64
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			value := counts[id]
			if value < 0 {
				return fmt.Errorf("negative count %d for %s", value, id)
			}
			res, err := stmt.ExecContext(ctx, value, id)
			if err != nil {
				return fmt.Errorf("update %s: %w", id, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to set %s.%s: %w", t.name, column, err)
	}
	return int(updated), nil
}

func (t table) selectColumns() string {
	cols := []string{
		t.idColumn + " AS id",
		t.nameColumn + " AS name",
	}
	if t.urlColumn != "" {
		cols = append(cols, t.urlColumn+" AS url")
	} else {
		cols = append(cols, "'' AS url")
	}
	if t.parentColumn != "" {
		cols = append(cols, "COALESCE("+t.parentColumn+", '') AS parent_name")
	} else {
		cols = append(cols, "'' AS parent_name")
	}
	for _, m := range []Metric{MetricItems, MetricViews, MetricDownloads} {
		for _, w := range window.Defaults() {
			name := string(m) + "_" + w.Column()
			if _, err := t.counterColumn(m, w); err == nil {
				cols = append(cols, "COALESCE("+name+", 0) AS "+name)
			} else {
				cols = append(cols, "0 AS "+name)
			}
		}
	}
	return strings.Join(cols, ", ")
}

// Get reads the row for one entity
func (s *Store) Get(ctx context.Context, kind Kind, id string) (*Row, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", t.selectColumns(), t.name, t.idColumn))
	var row Row
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s %s: %w", kind, id, err)
	}
	return &row, nil
}

// List reads every row of a kind ordered by identifier
func (s *Store) List(ctx context.Context, kind Kind) ([]Row, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", t.selectColumns(), t.name, t.idColumn)
	var rows []Row
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list %s rows: %w", kind, err)
	}
	return rows, nil
}

// IDs returns the identifiers registered for a kind
func (s *Store) IDs(ctx context.Context, kind Kind) ([]string, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	var ids []string
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", t.idColumn, t.name, t.idColumn)
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list %s identifiers: %w", kind, err)
	}
	return ids, nil
}
