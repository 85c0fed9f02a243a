package solr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Core names
const (
	CoreSearch     = "search"
	CoreStatistics = "statistics"
)

// ErrUnexpectedStatus is returned when Solr answers with a non-200 status
var ErrUnexpectedStatus = errors.New("unexpected solr response status")

var shardPattern = regexp.MustCompile(`^statistics-[0-9]{4}$`)

const shardsKey = "statistics"

// Config configures the Solr client
type Config struct {
	URL       string
	Timeout   time.Duration
	ShardsTTL time.Duration
}

// Client talks to a Solr server over HTTP
type Client struct {
	baseURL string
	http    *resty.Client
	shards  *lru.LRU[string, string]
	log     *logrus.Logger
}

// NewClient creates a Solr client
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ttl := cfg.ShardsTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	base := strings.TrimRight(cfg.URL, "/")
	httpClient := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		baseURL: base,
		http:    httpClient,
		shards:  lru.NewLRU[string, string](1, nil, ttl),
		log:     log,
	}
}

// Ping checks that the Solr server answers
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return fmt.Errorf("failed to reach solr: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode())
	}
	return nil
}

// Select runs a query and decodes the response
func (c *Client) Select(ctx context.Context, q Query) (*Response, error) {
	params := q.Values()
	if q.Sharded {
		shards, err := c.StatisticsShards(ctx)
		if err != nil {
			return nil, err
		}
		params.Set("shards", shards)
	}

	core := q.Core
	if core == "" {
		core = CoreSearch
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		Get("/" + core + "/select")
	if err != nil {
		return nil, fmt.Errorf("solr query against %s failed: %w", core, err)
	}
	c.log.WithField("url", resp.Request.URL).Debug("Called Solr")

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, core, resp.StatusCode())
	}
	return ParseResponse(resp.Body())
}

type coreStatus struct {
	Status map[string]json.RawMessage `json:"status"`
}

// StatisticsShards returns the shards parameter covering the statistics core
// and every statistics-YYYY core. The list is cached; when the core status
// cannot be read only the main statistics core is used.
func (c *Client) StatisticsShards(ctx context.Context) (string, error) {
	if shards, ok := c.shards.Get(shardsKey); ok {
		return shards, nil
	}

	shards := []string{c.baseURL + "/" + CoreStatistics}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("action", "STATUS").
		SetQueryParam("wt", "json").
		Get("/admin/cores")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.WithError(err).Warn("Failed to list Solr cores, searching the statistics core only")
		return shards[0], nil
	}
	if resp.StatusCode() != http.StatusOK {
		c.log.WithField("status", resp.StatusCode()).Warn("Failed to list Solr cores, searching the statistics core only")
		return shards[0], nil
	}

	var status coreStatus
	if err := json.Unmarshal(resp.Body(), &status); err != nil {
		c.log.WithError(err).Warn("Unreadable Solr core status, searching the statistics core only")
		return shards[0], nil
	}

	var years []string
	for core := range status.Status {
		if shardPattern.MatchString(core) {
			years = append(years, core)
		}
	}
	sort.Strings(years)
	for _, core := range years {
		c.log.WithField("core", core).Debug("Adding Solr statistics shard")
		shards = append(shards, c.baseURL+"/"+core)
	}

	joined := strings.Join(shards, ",")
	c.log.WithField("shards", joined).Info("Using Solr shards for statistics")
	c.shards.Add(shardsKey, joined)
	return joined, nil
}
