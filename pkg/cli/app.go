package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repostats/pkg/config"
	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/hierarchy"
	"github.com/platinummonkey/repostats/pkg/indexer"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/platinummonkey/repostats/pkg/solr"
	"github.com/platinummonkey/repostats/pkg/storage"
)

// app holds what every command needs: configuration, a logger and the
// statistics database
type app struct {
	cfg    *config.Config
	log    *logrus.Logger
	logOut io.Closer
	store  *storage.Store
}

// loadApp loads and validates configuration and sets up logging
func loadApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, closer, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return &app{cfg: cfg, log: log, logOut: closer}, nil
}

// openStore connects to the statistics database
func (a *app) openStore() error {
	store, err := storage.Open(a.cfg.StorageConfig(), a.log)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

// Close releases the database connection and the log file
func (a *app) Close() error {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close database connection")
		}
	}
	return a.logOut.Close()
}

// buildDeps connects the metadata and search clients for one run. A failed
// login is logged; the run goes on and unauthorised reads fail individually.
func buildDeps(ctx context.Context, cfg *config.Config, store indexer.Registry, metrics *observability.Metrics, log *logrus.Logger) indexer.Deps {
	meta := dspace.NewClient(cfg.DSpaceConfig(), log)
	if err := meta.Login(ctx); err != nil {
		log.WithError(err).Error("Failed to log in to the REST API")
	}

	search := solr.NewClient(cfg.SolrClientConfig(), log)
	windows, err := cfg.Windows()
	if err != nil {
		// Validate rejects these; the indexers report them if they slip through
		log.WithError(err).Error("Configuration error in indexing.windows")
	}

	return indexer.Deps{
		Store:         store,
		Site:          meta,
		Walker:        hierarchy.NewWalker(meta, cfg.HierarchyMode(), log),
		Aggregator:    facet.New(search, cfg.Solr.PageSize, metrics, log),
		Windows:       windows,
		RepositoryURL: cfg.Repository.URL,
		ItemPageDelay: cfg.Indexing.ItemPageDelay,
		Metrics:       metrics,
		Log:           log,
	}
}
