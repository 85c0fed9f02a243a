// Package config loads repostats configuration from a YAML file with
// environment variable overrides.
//
// # Configuration File
//
//	repository:
//	  url: https://repo.example.edu
//	  rest:
//	    url: https://repo.example.edu/server/api
//	    username: stats@example.edu
//	    page_size: 100
//	solr:
//	  url: http://localhost:8983/solr
//	  page_size: 100
//	  shards_ttl: 1h
//	database:
//	  driver: postgres        # postgres or sqlite3
//	  host: localhost
//	  name: repostats
//	indexing:
//	  windows: [month, year, all]
//	  hierarchy: tree         # tree or flat
//	logging:
//	  level: info
//	  path: /var/log/repostats
//	  file: repostats.log
//	metrics:
//	  listen: ":9090"
//	schedule:
//	  cron: "0 2 * * *"
//	  lock:
//	    redis_url: redis://localhost:6379/0
//
// # Environment Overrides
//
//	REPOSTATS_REST_USERNAME, REPOSTATS_REST_PASSWORD
//	REPOSTATS_DB_DSN, REPOSTATS_DB_HOST, REPOSTATS_DB_PASSWORD
//	REPOSTATS_SOLR_URL, REPOSTATS_WINDOWS, REPOSTATS_LOG_LEVEL
//	REPOSTATS_REDIS_URL, REPOSTATS_OTEL_ENABLED
//
// Validation errors wrap ErrInvalidConfig and are reported before any
// connection is attempted.
package config
