package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/repostats/pkg/dspace"
	"github.com/platinummonkey/repostats/pkg/facet"
	"github.com/platinummonkey/repostats/pkg/hierarchy"
	"github.com/platinummonkey/repostats/pkg/observability"
	"github.com/platinummonkey/repostats/pkg/solr"
	"github.com/platinummonkey/repostats/pkg/storage"
	"github.com/platinummonkey/repostats/pkg/window"
)

// ErrInvalidConfig is returned by Validate and Load for unusable configuration
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Repository RepositoryConfig         `yaml:"repository"`
	Solr       SolrConfig               `yaml:"solr"`
	Database   DatabaseConfig           `yaml:"database"`
	Indexing   IndexingConfig           `yaml:"indexing"`
	Logging    observability.LogConfig  `yaml:"logging"`
	Metrics    MetricsConfig            `yaml:"metrics"`
	Tracing    observability.OTelConfig `yaml:"tracing"`
	Schedule   ScheduleConfig           `yaml:"schedule"`
}

// RepositoryConfig locates the repository UI and its REST API
type RepositoryConfig struct {
	URL  string     `yaml:"url"`
	REST RESTConfig `yaml:"rest"`
}

// RESTConfig holds metadata API settings
type RESTConfig struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	PageSize int           `yaml:"page_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SolrConfig holds search index settings
type SolrConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	PageSize  int           `yaml:"page_size"`
	ShardsTTL time.Duration `yaml:"shards_ttl"`
}

// DatabaseConfig holds the statistics database settings. DSN wins over the
// individual connection fields when both are given.
type DatabaseConfig struct {
	Driver      string        `yaml:"driver"`
	DSN         string        `yaml:"dsn"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Name        string        `yaml:"name"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	SSLMode     string        `yaml:"sslmode"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

// IndexingConfig controls what the indexers compute
type IndexingConfig struct {
	Windows       []string      `yaml:"windows"`
	Hierarchy     string        `yaml:"hierarchy"`
	ItemPageDelay time.Duration `yaml:"item_page_delay"`
}

// MetricsConfig controls the metrics and health listener
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// ScheduleConfig controls scheduled runs
type ScheduleConfig struct {
	Cron string     `yaml:"cron"`
	Lock LockConfig `yaml:"lock"`
}

// LockConfig configures the cross-host run lock. An empty RedisURL disables it.
type LockConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns the configuration used for keys a file leaves out
func Default() *Config {
	windows := make([]string, 0, 3)
	for _, w := range window.Defaults() {
		windows = append(windows, string(w))
	}
	return &Config{
		Repository: RepositoryConfig{
			REST: RESTConfig{
				PageSize: dspace.DefaultPageSize,
				Timeout:  60 * time.Second,
			},
		},
		Solr: SolrConfig{
			Timeout:   120 * time.Second,
			PageSize:  facet.DefaultPageSize,
			ShardsTTL: time.Hour,
		},
		Database: DatabaseConfig{
			Driver:      storage.DriverPostgres,
			Port:        5432,
			SSLMode:     "disable",
			MaxConns:    5,
			Timeout:     10 * time.Second,
			MaxLifetime: 30 * time.Minute,
			MaxIdleTime: 5 * time.Minute,
		},
		Indexing: IndexingConfig{
			Windows:   windows,
			Hierarchy: string(hierarchy.ModeTree),
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.OTelConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "repostats",
			Insecure:    true,
		},
		Schedule: ScheduleConfig{
			Cron: "0 2 * * *",
			Lock: LockConfig{TTL: 6 * time.Hour},
		},
	}
}

// Load reads the YAML file at path over the defaults, applies REPOSTATS_*
// environment overrides and validates the result. An empty path loads
// defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables, mostly so
// credentials stay out of the file
func (c *Config) applyEnv() {
	c.Repository.URL = getEnv("REPOSTATS_REPOSITORY_URL", c.Repository.URL)
	c.Repository.REST.URL = getEnv("REPOSTATS_REST_URL", c.Repository.REST.URL)
	c.Repository.REST.Username = getEnv("REPOSTATS_REST_USERNAME", c.Repository.REST.Username)
	c.Repository.REST.Password = getEnv("REPOSTATS_REST_PASSWORD", c.Repository.REST.Password)
	c.Repository.REST.PageSize = getEnvInt("REPOSTATS_REST_PAGE_SIZE", c.Repository.REST.PageSize)

	c.Solr.URL = getEnv("REPOSTATS_SOLR_URL", c.Solr.URL)
	c.Solr.Timeout = getEnvDuration("REPOSTATS_SOLR_TIMEOUT", c.Solr.Timeout)

	c.Database.Driver = getEnv("REPOSTATS_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("REPOSTATS_DB_DSN", c.Database.DSN)
	c.Database.Host = getEnv("REPOSTATS_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("REPOSTATS_DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("REPOSTATS_DB_NAME", c.Database.Name)
	c.Database.Username = getEnv("REPOSTATS_DB_USERNAME", c.Database.Username)
	c.Database.Password = getEnv("REPOSTATS_DB_PASSWORD", c.Database.Password)

	if windows := getEnv("REPOSTATS_WINDOWS", ""); windows != "" {
		c.Indexing.Windows = strings.Split(windows, ",")
	}
	c.Indexing.Hierarchy = getEnv("REPOSTATS_HIERARCHY", c.Indexing.Hierarchy)

	c.Logging.Level = getEnv("REPOSTATS_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("REPOSTATS_LOG_FORMAT", c.Logging.Format)
	c.Metrics.Listen = getEnv("REPOSTATS_METRICS_LISTEN", c.Metrics.Listen)

	c.Tracing.Enabled = getEnvBool("REPOSTATS_OTEL_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("REPOSTATS_OTEL_ENDPOINT", c.Tracing.Endpoint)

	c.Schedule.Cron = getEnv("REPOSTATS_SCHEDULE", c.Schedule.Cron)
	c.Schedule.Lock.RedisURL = getEnv("REPOSTATS_REDIS_URL", c.Schedule.Lock.RedisURL)
}

// Validate checks the configuration before any connection is made
func (c *Config) Validate() error {
	if c.Repository.URL == "" {
		return invalid("repository.url is required")
	}
	if c.Repository.REST.URL == "" {
		return invalid("repository.rest.url is required")
	}
	if c.Repository.REST.PageSize <= 0 {
		return invalid("repository.rest.page_size must be positive")
	}
	if c.Solr.URL == "" {
		return invalid("solr.url is required")
	}
	if c.Solr.PageSize <= 0 {
		return invalid("solr.page_size must be positive")
	}

	switch c.Database.Driver {
	case storage.DriverPostgres:
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			return invalid("database.dsn or database.host and database.name are required")
		}
	case storage.DriverSQLite:
		if c.Database.DSN == "" {
			return invalid("database.dsn is required for sqlite3")
		}
	default:
		return invalid(fmt.Sprintf("unknown database driver %q (must be %s or %s)", c.Database.Driver, storage.DriverPostgres, storage.DriverSQLite))
	}

	if len(c.Indexing.Windows) == 0 {
		return invalid("indexing.windows must name at least one window")
	}
	if _, err := c.Windows(); err != nil {
		return invalid(err.Error())
	}
	if _, err := hierarchy.ParseMode(c.Indexing.Hierarchy); err != nil {
		return invalid(err.Error())
	}
	if c.Indexing.ItemPageDelay < 0 {
		return invalid("indexing.item_page_delay must not be negative")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return invalid("tracing.endpoint is required when tracing is enabled")
	}

	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return invalid(fmt.Sprintf("schedule.cron %q: %v", c.Schedule.Cron, err))
	}
	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, msg)
}

// Windows parses the configured window names
func (c *Config) Windows() ([]window.Name, error) {
	out := make([]window.Name, 0, len(c.Indexing.Windows))
	for _, s := range c.Indexing.Windows {
		w, err := window.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// HierarchyMode returns the configured traversal mode
func (c *Config) HierarchyMode() hierarchy.Mode {
	mode, err := hierarchy.ParseMode(c.Indexing.Hierarchy)
	if err != nil {
		return hierarchy.ModeTree
	}
	return mode
}

// StorageConfig maps the database section to storage settings
func (c *Config) StorageConfig() storage.Config {
	dsn := c.Database.DSN
	if dsn == "" && c.Database.Driver == storage.DriverPostgres {
		dsn = storage.PostgresDSN(c.Database.Host, c.Database.Port, c.Database.Name,
			c.Database.Username, c.Database.Password, c.Database.SSLMode)
	}
	return storage.Config{
		Driver:      c.Database.Driver,
		DSN:         dsn,
		MaxConns:    c.Database.MaxConns,
		MinConns:    c.Database.MinConns,
		Timeout:     c.Database.Timeout,
		MaxLifetime: c.Database.MaxLifetime,
		MaxIdleTime: c.Database.MaxIdleTime,
	}
}

// DSpaceConfig maps the REST section to client settings
func (c *Config) DSpaceConfig() dspace.Config {
	return dspace.Config{
		URL:      c.Repository.REST.URL,
		Username: c.Repository.REST.Username,
		Password: c.Repository.REST.Password,
		PageSize: c.Repository.REST.PageSize,
		Timeout:  c.Repository.REST.Timeout,
	}
}

// SolrClientConfig maps the solr section to client settings
func (c *Config) SolrClientConfig() solr.Config {
	return solr.Config{
		URL:       c.Solr.URL,
		Timeout:   c.Solr.Timeout,
		ShardsTTL: c.Solr.ShardsTTL,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
