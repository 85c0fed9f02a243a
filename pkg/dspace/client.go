package dspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	csrfHeader        = "DSPACE-XSRF-TOKEN"
	csrfRequestHeader = "X-XSRF-TOKEN"
	csrfCookie        = "DSPACE-XSRF-COOKIE"

	// DefaultPageSize is the number of records requested per page
	DefaultPageSize = 100
)

var (
	// ErrNotFound is returned when the API reports no such object
	ErrNotFound = errors.New("dspace object not found")
	// ErrUnexpectedStatus is returned for any other non-200 response
	ErrUnexpectedStatus = errors.New("unexpected dspace response status")
	// ErrAuthentication is returned when login is rejected
	ErrAuthentication = errors.New("dspace authentication failed")
)

// Config configures the REST client
type Config struct {
	URL      string
	Username string
	Password string
	PageSize int
	Timeout  time.Duration
}

// Client talks to the DSpace REST API
type Client struct {
	http     *resty.Client
	pageSize int
	username string
	password string
	token    string
	parents  *lru.LRU[string, Entity]
	log      *logrus.Logger
}

// NewClient creates a REST client. Call Login before issuing requests that
// need authentication.
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	c := &Client{
		pageSize: pageSize,
		username: cfg.Username,
		password: cfg.Password,
		parents:  lru.NewLRU[string, Entity](4096, nil, 30*time.Minute),
		log:      log,
	}
	c.http = resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if c.token != "" {
				r.SetHeader(csrfRequestHeader, c.token)
				r.SetCookie(&http.Cookie{Name: csrfCookie, Value: c.token})
			}
			return nil
		}).
		OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
			if t := r.Header().Get(csrfHeader); t != "" && t != c.token {
				c.log.Debug("Updating CSRF token")
				c.token = t
			}
			return nil
		})
	return c
}

// Login fetches a CSRF token and, when credentials are configured,
// authenticates and keeps the returned bearer token for later requests.
func (c *Client) Login(ctx context.Context) error {
	if _, err := c.http.R().SetContext(ctx).Get("/security/csrf"); err != nil {
		return fmt.Errorf("failed to fetch csrf token: %w", err)
	}
	if c.token == "" {
		c.log.Info("No CSRF token in the REST API response")
	}

	if c.username == "" {
		c.log.Debug("No REST API credentials configured, continuing anonymously")
		return nil
	}

	c.log.Info("Authenticating connection to REST API")
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"user": c.username, "password": c.password}).
		Post("/authn/login")
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode())
	}
	if auth := resp.Header().Get("Authorization"); auth != "" {
		c.http.SetHeader("Authorization", auth)
	}
	c.log.Info("Successfully authenticated to REST API")
	return nil
}

// Ping checks that the API root answers
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/", nil)
	return err
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).Get("/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	c.log.WithFields(logrus.Fields{"path": path, "status": resp.StatusCode()}).Debug("Called REST API")

	switch resp.StatusCode() {
	case http.StatusOK:
		return resp.Body(), nil
	case http.StatusNoContent, http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	default:
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrUnexpectedStatus, path, resp.StatusCode())
	}
}

func (c *Client) getEntity(ctx context.Context, path string) (*Entity, error) {
	body, err := c.get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	var e Entity
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &e, nil
}

// paged lazily walks a HAL listing. Iteration stops at the first error,
// which is yielded once.
func (c *Client) paged(ctx context.Context, path, key string) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		for page := 0; ; page++ {
			body, err := c.get(ctx, path, map[string]string{
				"page": strconv.Itoa(page),
				"size": strconv.Itoa(c.pageSize),
			})
			if errors.Is(err, ErrNotFound) {
				return
			}
			if err != nil {
				yield(Entity{}, err)
				return
			}

			var hal halPage
			if err := json.Unmarshal(body, &hal); err != nil {
				yield(Entity{}, fmt.Errorf("failed to decode %s page %d: %w", path, page, err))
				return
			}
			var entities []Entity
			if raw, ok := hal.Embedded[key]; ok {
				if err := json.Unmarshal(raw, &entities); err != nil {
					yield(Entity{}, fmt.Errorf("failed to decode %s page %d: %w", path, page, err))
					return
				}
			}
			for _, e := range entities {
				if !yield(e, nil) {
					return
				}
			}

			if len(entities) == 0 || hal.Page == nil || page+1 >= hal.Page.TotalPages {
				return
			}
		}
	}
}

// Site returns the repository's site object
func (c *Client) Site(ctx context.Context) (*Entity, error) {
	for site, err := range c.paged(ctx, pathSites, embeddedSites) {
		if err != nil {
			return nil, err
		}
		return &site, nil
	}
	return nil, fmt.Errorf("%w: no site object", ErrNotFound)
}

// Communities lists every community
func (c *Client) Communities(ctx context.Context) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathCommunities, embeddedCommunities)
}

// TopCommunities lists communities without a parent
func (c *Client) TopCommunities(ctx context.Context) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathTopCommunities, embeddedCommunities)
}

// SubCommunities lists the direct children of a community
func (c *Client) SubCommunities(ctx context.Context, communityID string) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathCommunities+"/"+communityID+"/subcommunities", embeddedSubcommunities)
}

// CommunityCollections lists the collections a community owns directly
func (c *Client) CommunityCollections(ctx context.Context, communityID string) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathCommunities+"/"+communityID+"/collections", embeddedCollections)
}

// Collections lists every collection
func (c *Client) Collections(ctx context.Context) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathCollections, embeddedCollections)
}

// Items lists every archived item
func (c *Client) Items(ctx context.Context) iter.Seq2[Entity, error] {
	return c.paged(ctx, pathItems, embeddedItems)
}

// ParentCommunity returns the community owning a community or collection.
// Top-level communities return ErrNotFound.
func (c *Client) ParentCommunity(ctx context.Context, collection bool, id string) (*Entity, error) {
	base := pathCommunities
	if collection {
		base = pathCollections
	}
	return c.cachedParent(ctx, base+"/"+id+"/parentCommunity")
}

// OwningCollection returns the collection an item belongs to
func (c *Client) OwningCollection(ctx context.Context, itemID string) (*Entity, error) {
	return c.getEntity(ctx, pathItems+"/"+itemID+"/owningCollection")
}

func (c *Client) cachedParent(ctx context.Context, path string) (*Entity, error) {
	if e, ok := c.parents.Get(path); ok {
		return &e, nil
	}
	e, err := c.getEntity(ctx, path)
	if err != nil {
		return nil, err
	}
	c.parents.Add(path, *e)
	return e, nil
}
