// Package storage persists per-entity rolling statistics for a digital repository.
//
// # Overview
//
// Four tables hold one row per entity: repository_stats, community_stats,
// collection_stats and item_stats. Each row carries the entity's identity, a
// denormalized parent display name, and counters for items, views and
// downloads over three windows (last month, academic year, all time).
//
// # Semantics
//
// Registration is insert-or-ignore: registering an identifier twice leaves a
// single row. Counter writes overwrite the stored value for a window, so a
// re-run with the same index data produces the same table contents.
//
// Names, URLs and parent names longer than 255 characters are truncated to
// 251 characters plus "..." before they are written.
//
// # Drivers
//
// The store runs on PostgreSQL (lib/pq) in production and SQLite
// (mattn/go-sqlite3) for local runs and tests. Statements are written with
// "?" placeholders and rebound for the active driver by sqlx.
//
//	store, err := storage.Open(storage.Config{Driver: "postgres", DSN: dsn})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	_, err = store.Register(ctx, storage.Record{Kind: storage.KindCollection, ID: id, Name: name})
//	n, err := store.SetCounters(ctx, storage.KindCollection, storage.MetricViews, window.Month, counts)
//
// # Related Packages
//
//   - pkg/indexer: Writes registrations and counters
//   - pkg/window: Window names map to counter columns
package storage
